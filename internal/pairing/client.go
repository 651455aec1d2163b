// Package pairing drives the device claim handshake against the backend.
package pairing

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/soloras/hub-agent/internal/config"
	apperrors "github.com/soloras/hub-agent/internal/errors"
	"github.com/soloras/hub-agent/internal/model"
	"github.com/soloras/hub-agent/internal/notify"
	"github.com/soloras/hub-agent/internal/util"
)

// ErrCancelled is returned to waiters whose session was reset or superseded.
var ErrCancelled = errors.New("pairing session cancelled")

type State string

const (
	StateIdle            State = "idle"
	StateRequesting      State = "requesting"
	StateAwaitingScan    State = "awaiting_scan"
	StateAwaitingConfirm State = "awaiting_confirm"
	StateResolved        State = "resolved"
	StateFailed          State = "failed"
)

type Transport interface {
	CreatePairingSession(ctx context.Context, req model.CreateSessionRequest) (*model.CreateSessionResponse, error)
	PairingStatus(ctx context.Context, pairingID string) (*model.StatusResponse, error)
}

// Snapshot is a point-in-time view of the client.
type Snapshot struct {
	State       State             `json:"state"`
	Kind        model.PairingKind `json:"kind,omitempty"`
	PairingID   string            `json:"pairingId,omitempty"`
	PairingCode string            `json:"pairingCode,omitempty"`
	ExpiresAt   *time.Time        `json:"expiresAt,omitempty"`
	Error       string            `json:"error,omitempty"`
}

type session struct {
	kind      model.PairingKind
	id        string
	code      string
	expiresAt time.Time
}

type Client struct {
	api      Transport
	interval time.Duration

	mu       sync.Mutex
	gen      uint64
	state    State
	kind     model.PairingKind
	session  *session
	lastErr  string
	timer    *time.Timer
	cancel   context.CancelFunc
	pending  *Pending
	changes  notify.Serial[Snapshot]
}

func New(api Transport, interval time.Duration) *Client {
	if interval <= 0 {
		interval = config.DefaultPairingPollInterval
	}
	return &Client{
		api:      api,
		interval: interval,
		state:    StateIdle,
	}
}

// OnChange registers fn to receive every state transition in order. fn is
// called without the client lock held.
func (c *Client) OnChange(fn func(Snapshot)) {
	c.changes.Listen(fn)
}

// Start resets any current session, opens a new one and begins polling.
// The returned Pending resolves exactly once.
func (c *Client) Start(ctx context.Context, kind model.PairingKind, hubID string) (*Pending, error) {
	if !kind.Valid() {
		return nil, apperrors.InvalidInput("kind", "must be hub-claim, device-pair or member-link")
	}
	if kind.NeedsHubID() && hubID == "" {
		return nil, apperrors.MissingRequired("hubId")
	}

	c.mu.Lock()
	c.resetLocked()
	gen := c.gen
	c.state = StateRequesting
	c.kind = kind
	reqCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.publishLocked()
	c.mu.Unlock()
	c.emit()

	req := model.CreateSessionRequest{Type: kind.WireType()}
	if kind.NeedsHubID() {
		req.HubID = hubID
	}
	resp, err := c.api.CreatePairingSession(reqCtx, req)
	cancel()

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return nil, ErrCancelled
	}
	c.cancel = nil

	if err != nil {
		if !apperrors.HasCode(err, apperrors.ErrCodeSessionCreateFailed) {
			err = apperrors.SessionCreateError(err.Error()).WithCause(err)
		}
		c.state = StateFailed
		c.lastErr = err.Error()
		c.publishLocked()
		c.mu.Unlock()
		c.emit()

		log.Warn().Err(err).Str("kind", string(kind)).Msg("pairing session create failed")
		return nil, err
	}

	c.session = &session{
		kind:      kind,
		id:        resp.PairingID,
		code:      resp.PairingCode,
		expiresAt: resp.ExpiresAt.Time,
	}
	c.state = StateAwaitingScan
	p := newPending()
	c.pending = p
	c.scheduleLocked(gen, 0)
	c.publishLocked()
	c.mu.Unlock()
	c.emit()

	log.Info().
		Str("kind", string(kind)).
		Str("pairingId", resp.PairingID).
		Str("code", util.MaskCode(resp.PairingCode)).
		Time("expiresAt", resp.ExpiresAt.Time).
		Msg("pairing session created")

	return p, nil
}

// Reset cancels the scheduled poll and any in-flight request and returns to
// idle. Safe from any state.
func (c *Client) Reset() {
	c.mu.Lock()
	wasIdle := c.state == StateIdle && c.session == nil
	c.resetLocked()
	if !wasIdle {
		c.publishLocked()
	}
	c.mu.Unlock()

	if !wasIdle {
		log.Info().Msg("pairing reset")
		c.emit()
	}
}

func (c *Client) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) resetLocked() {
	c.gen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.pending != nil {
		c.pending.cancel()
		c.pending = nil
	}
	c.session = nil
	c.kind = ""
	c.lastErr = ""
	c.state = StateIdle
}

// scheduleLocked arms the single poll timer for generation gen.
func (c *Client) scheduleLocked(gen uint64, delay time.Duration) {
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(delay, func() { c.poll(gen) })
}

func (c *Client) poll(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.session == nil {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	id := c.session.id
	c.mu.Unlock()

	resp, err := c.api.PairingStatus(ctx, id)
	cancel()

	c.mu.Lock()
	if gen != c.gen || c.session == nil {
		c.mu.Unlock()
		log.Debug().Str("pairingId", id).Msg("discarding stale pairing poll result")
		return
	}
	c.cancel = nil

	if err != nil {
		c.scheduleLocked(gen, c.interval)
		c.mu.Unlock()
		log.Debug().Err(err).Str("pairingId", id).Msg("pairing poll failed, retrying")
		return
	}

	switch resp.Status {
	case model.SessionStatusPending:
		c.scheduleLocked(gen, c.interval)

	case model.SessionStatusClaimed:
		if c.session.kind == model.PairingKindMemberLink && c.state != StateAwaitingConfirm {
			c.state = StateAwaitingConfirm
			c.publishLocked()
			log.Info().Str("pairingId", id).Msg("pairing claimed, awaiting hub confirmation")
		}
		c.scheduleLocked(gen, c.interval)

	case model.SessionStatusPaired:
		result, perr := c.resultFor(resp)
		if perr != nil {
			c.failLocked(perr)
			break
		}
		c.resolveLocked(result)

	case model.SessionStatusExpired:
		c.failLocked(apperrors.PairingExpired())

	default:
		c.failLocked(apperrors.Protocol("unknown pairing status " + string(resp.Status)))
	}
	c.mu.Unlock()

	c.emit()
}

func (c *Client) resultFor(resp *model.StatusResponse) (Result, error) {
	r := Result{
		Kind:        c.session.kind,
		PairingID:   c.session.id,
		HubID:       resp.HubID,
		UserID:      resp.UserID,
		DeviceToken: resp.DeviceToken,
	}
	switch c.session.kind {
	case model.PairingKindMemberLink:
		if resp.UserID == "" {
			return r, apperrors.Protocol("paired member-link session missing userId")
		}
	default:
		if resp.DeviceToken == "" {
			return r, apperrors.Protocol("paired session missing deviceToken")
		}
	}
	return r, nil
}

func (c *Client) resolveLocked(r Result) {
	c.state = StateResolved
	c.session = nil
	if c.pending != nil {
		c.pending.deliver(r)
		c.pending = nil
	}

	log.Info().
		Str("kind", string(r.Kind)).
		Str("pairingId", r.PairingID).
		Str("hubId", r.HubID).
		Msg("pairing resolved")
	c.publishLocked()
}

func (c *Client) failLocked(err error) {
	kind, id := c.session.kind, c.session.id
	c.state = StateFailed
	c.lastErr = err.Error()
	c.session = nil
	if c.pending != nil {
		c.pending.deliver(Result{Kind: kind, PairingID: id, Err: err})
		c.pending = nil
	}

	log.Warn().Err(err).Str("kind", string(kind)).Str("pairingId", id).Msg("pairing failed")
	c.publishLocked()
}

func (c *Client) snapshotLocked() Snapshot {
	snap := Snapshot{
		State: c.state,
		Kind:  c.kind,
		Error: c.lastErr,
	}
	if c.session != nil {
		snap.PairingID = c.session.id
		snap.PairingCode = c.session.code
		if !c.session.expiresAt.IsZero() {
			exp := c.session.expiresAt
			snap.ExpiresAt = &exp
		}
	}
	return snap
}

// publishLocked queues the current snapshot. Queue order is transition order.
func (c *Client) publishLocked() {
	c.changes.Enqueue(c.snapshotLocked())
}

// emit delivers queued snapshots. Call without c.mu held.
func (c *Client) emit() {
	c.changes.Flush()
}
