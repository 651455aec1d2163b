package service

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/soloras/hub-agent/internal/config"
	apperrors "github.com/soloras/hub-agent/internal/errors"
	"github.com/soloras/hub-agent/internal/model"
	"github.com/soloras/hub-agent/internal/repository"
)

// PresenceStore records short-lived hub liveness.
type PresenceStore interface {
	RecordPresence(ctx context.Context, hubID string, at time.Time, ttl time.Duration) error
}

type HubService struct {
	hubs     repository.HubRepository
	presence PresenceStore
	now      func() time.Time
}

func NewHubService(hubs repository.HubRepository, presence PresenceStore) *HubService {
	return &HubService{
		hubs:     hubs,
		presence: presence,
		now:      time.Now,
	}
}

// Heartbeat records that the device's hub is alive. A device may only beat
// for the hub it belongs to.
func (s *HubService) Heartbeat(ctx context.Context, device *model.Device, hubID string) (*model.LivenessResponse, error) {
	if device.HubID != hubID {
		return nil, apperrors.NotFound("Hub")
	}

	now := s.now()
	if err := s.presence.RecordPresence(ctx, hubID, now, config.PresenceTTL); err != nil {
		log.Warn().Err(err).Str("hubId", hubID).Msg("failed to record hub presence")
	}
	if err := s.hubs.TouchLastSeen(ctx, hubID, now); err != nil {
		return nil, apperrors.Database(err)
	}

	return &model.LivenessResponse{OK: true, Time: now.UTC().Format(time.RFC3339)}, nil
}

// Me resolves the hub the authenticated device is bound to.
func (s *HubService) Me(ctx context.Context, device *model.Device) (*model.HubMeResponse, error) {
	hub, err := s.hubs.FindByID(ctx, device.HubID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if hub == nil {
		return nil, apperrors.NotFound("Hub")
	}

	return &model.HubMeResponse{
		HubID:    hub.ID,
		DeviceID: device.ID,
		Name:     hub.Name,
	}, nil
}
