package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/soloras/hub-agent/internal/audit"
	"github.com/soloras/hub-agent/internal/database"
	apperrors "github.com/soloras/hub-agent/internal/errors"
	"github.com/soloras/hub-agent/internal/model"
	"github.com/soloras/hub-agent/internal/repository"
	"github.com/soloras/hub-agent/internal/util"
)

const (
	pairingCodeChars  = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	codeAttempts      = 10
	defaultHubName    = "Kiosk hub"
	maxHubNameLength  = 100
	defaultPairingTTL = 5 * time.Minute
)

// Transactor runs fn inside a database transaction.
type Transactor interface {
	WithTx(ctx context.Context, fn database.TxFunc) error
}

type PairingService struct {
	sessions      repository.PairingSessionRepository
	hubs          repository.HubRepository
	devices       repository.DeviceRepository
	tx            Transactor
	encryptionKey string
	ttl           time.Duration
	now           func() time.Time
}

func NewPairingService(
	sessions repository.PairingSessionRepository,
	hubs repository.HubRepository,
	devices repository.DeviceRepository,
	tx Transactor,
	encryptionKey string,
	ttl time.Duration,
) *PairingService {
	if ttl <= 0 {
		ttl = defaultPairingTTL
	}
	return &PairingService{
		sessions:      sessions,
		hubs:          hubs,
		devices:       devices,
		tx:            tx,
		encryptionKey: encryptionKey,
		ttl:           ttl,
		now:           time.Now,
	}
}

func (s *PairingService) CreateSession(ctx context.Context, req model.CreateSessionRequest, clientIP string) (*model.CreateSessionResponse, error) {
	if !req.Type.Valid() {
		return nil, apperrors.SessionCreateError("type must be hub, device or member")
	}

	var hubID *string
	if req.Type != model.WireTypeHub {
		if req.HubID == "" {
			return nil, apperrors.SessionCreateError("hubId is required for " + string(req.Type) + " sessions")
		}
		if !util.IsValidUUID(req.HubID) {
			return nil, apperrors.SessionCreateError("unknown hub")
		}
		hub, err := s.hubs.FindByID(ctx, req.HubID)
		if err != nil {
			return nil, apperrors.Database(err)
		}
		if hub == nil {
			return nil, apperrors.SessionCreateError("unknown hub")
		}
		hubID = &hub.ID
	}

	code, err := s.uniqueCode(ctx)
	if err != nil {
		return nil, err
	}

	session, err := s.sessions.Create(ctx, model.CreatePairingSessionParams{
		ID:        uuid.NewString(),
		Code:      code,
		Kind:      req.Type,
		HubID:     hubID,
		ClientIP:  clientIP,
		ExpiresAt: s.now().Add(s.ttl),
	})
	if err != nil {
		return nil, apperrors.Database(err)
	}

	audit.Log(ctx, audit.Event{
		Type:      audit.EventSessionCreate,
		HubID:     req.HubID,
		PairingID: session.ID,
		IP:        clientIP,
		Details:   map[string]any{"kind": string(req.Type)},
	})

	return &model.CreateSessionResponse{
		PairingID:   session.ID,
		PairingCode: session.Code,
		ExpiresAt:   model.Timestamp{Time: session.ExpiresAt},
	}, nil
}

func (s *PairingService) uniqueCode(ctx context.Context) (string, error) {
	for attempts := 0; attempts < codeAttempts; attempts++ {
		code := generateRandomCode()
		existing, err := s.sessions.FindOpenByCode(ctx, code)
		if err != nil {
			return "", apperrors.Database(err)
		}
		if existing == nil {
			return code, nil
		}
	}
	return "", apperrors.Internal("could not allocate a unique pairing code")
}

// Status reports a session, expiring it first when its deadline has passed.
func (s *PairingService) Status(ctx context.Context, pairingID string) (*model.StatusResponse, error) {
	session, err := s.find(ctx, pairingID)
	if err != nil {
		return nil, err
	}

	if err := s.expireIfStale(ctx, session); err != nil {
		return nil, err
	}

	resp := &model.StatusResponse{Status: session.Status}
	if session.HubID != nil {
		resp.HubID = *session.HubID
	}
	if session.UserID != nil {
		resp.UserID = *session.UserID
	}
	if session.Status == model.SessionStatusPaired && session.IssuedToken != nil {
		token, err := s.openToken(*session.IssuedToken)
		if err != nil {
			log.Error().Err(err).Str("pairingId", session.ID).Msg("failed to open issued token")
			return nil, apperrors.Internal("issued credential unavailable")
		}
		resp.DeviceToken = token
	}
	return resp, nil
}

// Claim binds a pending session to the companion app that scanned it.
func (s *PairingService) Claim(ctx context.Context, req model.ClaimRequest, clientIP string) (*model.ClaimResponse, error) {
	code := strings.ToUpper(strings.TrimSpace(req.PairingCode))
	if code == "" {
		return nil, apperrors.MissingRequired("pairingCode")
	}

	session, err := s.sessions.FindOpenByCode(ctx, code)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if session == nil {
		log.Warn().Str("code", util.MaskCode(code)).Msg("claim with unknown pairing code")
		return nil, apperrors.InvalidPairingCode()
	}
	if err := s.expireIfStale(ctx, session); err != nil {
		return nil, err
	}
	if session.Status == model.SessionStatusExpired {
		return nil, apperrors.PairingExpired()
	}
	if session.Status != model.SessionStatusPending {
		return nil, apperrors.Conflict("Pairing session already claimed")
	}

	var resp *model.ClaimResponse
	switch session.Kind {
	case model.WireTypeMember:
		resp, err = s.claimMember(ctx, session, req.UserID)
	case model.WireTypeDevice:
		resp, err = s.issueDevice(ctx, session, *session.HubID, "")
	default:
		resp, err = s.issueDevice(ctx, session, "", req.HubName)
	}
	if err != nil {
		return nil, err
	}

	audit.Log(ctx, audit.Event{
		Type:      audit.EventSessionClaim,
		HubID:     resp.HubID,
		PairingID: session.ID,
		IP:        clientIP,
		Details:   map[string]any{"kind": string(session.Kind), "status": string(resp.Status)},
	})
	return resp, nil
}

func (s *PairingService) claimMember(ctx context.Context, session *model.PairingSession, userID string) (*model.ClaimResponse, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, apperrors.MissingRequired("userId")
	}
	if err := s.sessions.MarkClaimed(ctx, session.ID, userID); err != nil {
		return nil, markError(err, "Pairing session already claimed")
	}

	resp := &model.ClaimResponse{PairingID: session.ID, Status: model.SessionStatusClaimed}
	if session.HubID != nil {
		resp.HubID = *session.HubID
	}
	return resp, nil
}

// issueDevice mints a credential for the session. An empty hubID registers a
// new hub named hubName.
func (s *PairingService) issueDevice(ctx context.Context, session *model.PairingSession, hubID, hubName string) (*model.ClaimResponse, error) {
	token, err := util.GenerateToken()
	if err != nil {
		return nil, apperrors.Internal("failed to generate device token").WithCause(err)
	}
	sealed, err := s.sealToken(token)
	if err != nil {
		return nil, apperrors.Internal("failed to seal device token").WithCause(err)
	}

	deviceKind := model.WireTypeDevice
	if hubID == "" {
		hubID = uuid.NewString()
		deviceKind = model.WireTypeHub
	}

	var device *model.Device
	err = s.tx.WithTx(ctx, func(tx *sqlx.Tx) error {
		if deviceKind == model.WireTypeHub {
			if _, err := s.hubs.WithTx(tx).Create(ctx, hubID, hubNameOrDefault(hubName)); err != nil {
				return fmt.Errorf("create hub: %w", err)
			}
		}

		var err error
		device, err = s.devices.WithTx(tx).Create(ctx, model.Device{
			ID:        uuid.NewString(),
			HubID:     hubID,
			TokenHash: util.HashToken(token),
			Kind:      deviceKind,
		})
		if err != nil {
			return fmt.Errorf("create device: %w", err)
		}

		if err := s.sessions.WithTx(tx).MarkPaired(ctx, session.ID, hubID, &sealed); err != nil {
			return fmt.Errorf("mark paired: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, markError(err, "Pairing session already claimed")
	}

	audit.Log(ctx, audit.Event{
		Type:      audit.EventDeviceIssued,
		HubID:     hubID,
		PairingID: session.ID,
		Details:   map[string]any{"deviceId": device.ID, "kind": string(deviceKind)},
	})

	resp := &model.ClaimResponse{PairingID: session.ID, Status: model.SessionStatusPaired, HubID: hubID}
	if deviceKind == model.WireTypeDevice {
		resp.DeviceToken = token
	}
	return resp, nil
}

// Confirm completes a claimed member-link session from the hub's side.
func (s *PairingService) Confirm(ctx context.Context, pairingID string, device *model.Device) (*model.StatusResponse, error) {
	session, err := s.find(ctx, pairingID)
	if err != nil {
		return nil, err
	}
	if session.Kind != model.WireTypeMember {
		return nil, apperrors.ValidationError("Only member-link sessions need confirmation")
	}
	if session.HubID == nil || *session.HubID != device.HubID {
		return nil, apperrors.NotFound("Pairing session")
	}
	if err := s.expireIfStale(ctx, session); err != nil {
		return nil, err
	}

	switch session.Status {
	case model.SessionStatusExpired:
		return nil, apperrors.PairingExpired()
	case model.SessionStatusPending:
		return nil, apperrors.Conflict("Pairing session has not been claimed")
	case model.SessionStatusPaired:
		return nil, apperrors.Conflict("Pairing session already confirmed")
	}

	if err := s.sessions.MarkPaired(ctx, session.ID, device.HubID, nil); err != nil {
		return nil, markError(err, "Pairing session already confirmed")
	}

	audit.Log(ctx, audit.Event{
		Type:      audit.EventSessionConfirm,
		HubID:     device.HubID,
		PairingID: session.ID,
		Details:   map[string]any{"deviceId": device.ID},
	})

	resp := &model.StatusResponse{Status: model.SessionStatusPaired, HubID: device.HubID}
	if session.UserID != nil {
		resp.UserID = *session.UserID
	}
	return resp, nil
}

func (s *PairingService) find(ctx context.Context, pairingID string) (*model.PairingSession, error) {
	if !util.IsValidUUID(pairingID) {
		return nil, apperrors.NotFound("Pairing session")
	}
	session, err := s.sessions.FindByID(ctx, pairingID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if session == nil {
		return nil, apperrors.NotFound("Pairing session")
	}
	return session, nil
}

func (s *PairingService) expireIfStale(ctx context.Context, session *model.PairingSession) error {
	if !session.Expired(s.now()) {
		return nil
	}
	if err := s.sessions.MarkExpired(ctx, session.ID); err != nil {
		return apperrors.Database(err)
	}
	session.Status = model.SessionStatusExpired
	log.Info().Str("pairingId", session.ID).Msg("pairing session expired")
	return nil
}

func (s *PairingService) sealToken(token string) (string, error) {
	if s.encryptionKey == "" {
		return token, nil
	}
	return util.Encrypt(s.encryptionKey, token)
}

func (s *PairingService) openToken(stored string) (string, error) {
	if s.encryptionKey == "" {
		return stored, nil
	}
	return util.Decrypt(s.encryptionKey, stored)
}

func hubNameOrDefault(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return defaultHubName
	}
	if utf8.RuneCountInString(name) > maxHubNameLength {
		name = string([]rune(name)[:maxHubNameLength])
	}
	return name
}

// markError maps a lost conditional update to a conflict.
func markError(err error, conflict string) error {
	if errors.Is(err, repository.ErrNotUpdated) {
		return apperrors.Conflict(conflict)
	}
	return apperrors.Database(err)
}

func generateRandomCode() string {
	chars := []byte(pairingCodeChars)
	part1 := make([]byte, 4)
	part2 := make([]byte, 4)

	for i := 0; i < 4; i++ {
		n, _ := rand.Int(rand.Reader, big.NewInt(int64(len(chars))))
		part1[i] = chars[n.Int64()]
	}
	for i := 0; i < 4; i++ {
		n, _ := rand.Int(rand.Reader, big.NewInt(int64(len(chars))))
		part2[i] = chars[n.Int64()]
	}

	return fmt.Sprintf("%s-%s", string(part1), string(part2))
}
