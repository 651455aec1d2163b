package hubapi

import (
	"context"
	"errors"
	"sync"

	"github.com/soloras/hub-agent/internal/config"
	apperrors "github.com/soloras/hub-agent/internal/errors"
	"github.com/soloras/hub-agent/internal/model"
)

var errNotOK = errors.New("backend reported ok=false")

// LivenessProbe performs one authenticated reachability check per call.
type LivenessProbe struct {
	client *Client
	mode   string

	mu    sync.Mutex
	hubID string
}

func NewLivenessProbe(client *Client, mode string) *LivenessProbe {
	if mode == "" {
		mode = config.LivenessModeHealth
	}
	return &LivenessProbe{client: client, mode: mode}
}

func (p *LivenessProbe) Check(ctx context.Context) error {
	var (
		resp *model.LivenessResponse
		err  error
	)

	switch p.mode {
	case config.LivenessModeHeartbeat:
		hubID, herr := p.resolveHubID(ctx)
		if herr != nil {
			return herr
		}
		resp, err = p.client.Heartbeat(ctx, hubID)
		if apperrors.HasCode(err, apperrors.ErrCodeUnauthorized) || apperrors.HasCode(err, apperrors.ErrCodeNotFound) {
			p.Forget()
		}
	default:
		resp, err = p.client.Health(ctx)
	}
	if err != nil {
		return err
	}
	if !resp.OK {
		return apperrors.External("hub api", errNotOK)
	}
	return nil
}

// Forget drops the cached hub id so the next heartbeat re-resolves it.
func (p *LivenessProbe) Forget() {
	p.mu.Lock()
	p.hubID = ""
	p.mu.Unlock()
}

func (p *LivenessProbe) HubID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hubID
}

func (p *LivenessProbe) resolveHubID(ctx context.Context) (string, error) {
	p.mu.Lock()
	cached := p.hubID
	p.mu.Unlock()
	if cached != "" {
		return cached, nil
	}

	me, err := p.client.HubMe(ctx)
	if err != nil {
		return "", err
	}
	if me == nil {
		return "", apperrors.NotPaired()
	}

	p.mu.Lock()
	p.hubID = me.HubID
	p.mu.Unlock()
	return me.HubID, nil
}
