// Package shell gates the kiosk UI on pairing and connectivity and owns the
// policy for what happens when pairing completes.
package shell

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/soloras/hub-agent/internal/audit"
	"github.com/soloras/hub-agent/internal/health"
	"github.com/soloras/hub-agent/internal/model"
	"github.com/soloras/hub-agent/internal/pairing"
	"github.com/soloras/hub-agent/internal/sse"
)

// Topic is the broker topic the local UI subscribes to.
const Topic = "agent"

const (
	EventState         = "state"
	EventPairing       = "pairing"
	EventPairingResult = "pairing_result"
)

type CredentialStore interface {
	Put(token string) error
	Clear() error
	IsPaired() bool
}

type View struct {
	Route        model.Route      `json:"route"`
	Paired       bool             `json:"paired"`
	Connectivity health.State     `json:"connectivity"`
	Pairing      pairing.Snapshot `json:"pairing"`
}

// PairingOutcome is published to the UI when a session resolves. Secrets are
// never included.
type PairingOutcome struct {
	Kind      model.PairingKind `json:"kind"`
	PairingID string            `json:"pairingId"`
	HubID     string            `json:"hubId,omitempty"`
	UserID    string            `json:"userId,omitempty"`
	Stored    bool              `json:"stored"`
}

type Shell struct {
	store   CredentialStore
	pairing *pairing.Client
	monitor *health.Monitor
	broker  *sse.Broker

	mu         sync.Mutex
	lastStatus model.ConnectivityStatus
	onRestart  []func()
}

func New(store CredentialStore, pc *pairing.Client, monitor *health.Monitor, broker *sse.Broker) *Shell {
	s := &Shell{
		store:   store,
		pairing: pc,
		monitor: monitor,
		broker:  broker,
	}
	pc.OnChange(s.onPairingChange)
	monitor.OnChange(s.onConnectivityChange)
	return s
}

// OnRestart registers fn to run whenever the runtime restarts after a
// credential change.
func (s *Shell) OnRestart(fn func()) {
	s.mu.Lock()
	s.onRestart = append(s.onRestart, fn)
	s.mu.Unlock()
}

func (s *Shell) Start() {
	s.monitor.Start()
	log.Info().Str("route", string(s.Route())).Msg("shell started")
}

func (s *Shell) Stop() {
	s.pairing.Reset()
	s.monitor.Stop()
}

func (s *Shell) Route() model.Route {
	return routeFor(s.store.IsPaired(), s.monitor.State())
}

func routeFor(paired bool, st health.State) model.Route {
	if !paired {
		return model.RouteOnboarding
	}
	switch st.Status {
	case model.ConnectivityUnknown:
		return model.RouteChecking
	case model.ConnectivityDisconnected:
		return model.RouteReconnecting
	default:
		return model.RouteMain
	}
}

func (s *Shell) View() View {
	paired := s.store.IsPaired()
	st := s.monitor.State()
	return View{
		Route:        routeFor(paired, st),
		Paired:       paired,
		Connectivity: st,
		Pairing:      s.pairing.Snapshot(),
	}
}

// StartPairing opens a session and hands its outcome to the pairing policy.
func (s *Shell) StartPairing(ctx context.Context, kind model.PairingKind, hubID string) (pairing.Snapshot, error) {
	p, err := s.pairing.Start(ctx, kind, hubID)
	if err != nil {
		if !errors.Is(err, pairing.ErrCancelled) {
			audit.Log(ctx, audit.Event{
				Type:    audit.EventPairingFailed,
				HubID:   hubID,
				Details: map[string]any{"kind": string(kind), "stage": "create", "error": err},
			})
		}
		return pairing.Snapshot{}, err
	}

	snap := s.pairing.Snapshot()
	audit.Log(ctx, audit.Event{
		Type:      audit.EventPairingStarted,
		HubID:     hubID,
		PairingID: snap.PairingID,
		Details:   map[string]any{"kind": string(kind)},
	})

	go s.await(p)
	return snap, nil
}

func (s *Shell) CancelPairing() {
	s.pairing.Reset()
}

func (s *Shell) Pairing() pairing.Snapshot {
	return s.pairing.Snapshot()
}

// PairingQR renders the active session's QR code as a PNG.
func (s *Shell) PairingQR() ([]byte, error) {
	return s.pairing.QRCode()
}

func (s *Shell) await(p *pairing.Pending) {
	res, err := p.Wait(context.Background())
	switch {
	case errors.Is(err, pairing.ErrCancelled):
		audit.Log(context.Background(), audit.Event{Type: audit.EventPairingCancelled})
		return
	case err != nil:
		audit.Log(context.Background(), audit.Event{
			Type:      audit.EventPairingFailed,
			PairingID: res.PairingID,
			Details:   map[string]any{"kind": string(res.Kind), "error": err},
		})
		return
	}

	if err := s.handleResolved(res); err != nil {
		log.Error().Err(err).Str("pairingId", res.PairingID).Msg("failed to apply pairing result")
	}
}

func (s *Shell) handleResolved(res pairing.Result) error {
	outcome := PairingOutcome{
		Kind:      res.Kind,
		PairingID: res.PairingID,
		HubID:     res.HubID,
		UserID:    res.UserID,
	}
	audit.Log(context.Background(), audit.Event{
		Type:      audit.EventPairingResolved,
		HubID:     res.HubID,
		PairingID: res.PairingID,
		Details:   map[string]any{"kind": string(res.Kind)},
	})

	if res.Kind == model.PairingKindHubClaim {
		if err := s.store.Put(res.DeviceToken); err != nil {
			s.broker.PublishJSON(Topic, EventPairingResult, outcome)
			return fmt.Errorf("store device credential: %w", err)
		}
		outcome.Stored = true
		audit.Log(context.Background(), audit.Event{Type: audit.EventCredentialStored, HubID: res.HubID})
		s.restart()
	}

	s.broker.PublishJSON(Topic, EventPairingResult, outcome)
	return nil
}

// Unpair forgets the device credential.
func (s *Shell) Unpair(ctx context.Context) error {
	if err := s.store.Clear(); err != nil {
		return err
	}
	audit.Log(ctx, audit.Event{Type: audit.EventCredentialClear})
	s.restart()
	return nil
}

// FactoryReset abandons any pairing in progress, clears the credential and
// restarts the runtime.
func (s *Shell) FactoryReset(ctx context.Context) error {
	s.pairing.Reset()
	if err := s.store.Clear(); err != nil {
		return err
	}
	audit.Log(ctx, audit.Event{Type: audit.EventFactoryReset})
	s.restart()
	return nil
}

// RetryConnection runs a liveness check now.
func (s *Shell) RetryConnection() {
	s.monitor.RetryNow()
}

func (s *Shell) restart() {
	s.mu.Lock()
	hooks := append([]func(){}, s.onRestart...)
	s.mu.Unlock()

	for _, fn := range hooks {
		fn()
	}
	s.monitor.Reload()
	log.Info().Str("route", string(s.Route())).Msg("agent runtime restarted")
}

func (s *Shell) onPairingChange(snap pairing.Snapshot) {
	s.broker.PublishJSON(Topic, EventPairing, snap)
}

func (s *Shell) onConnectivityChange(st health.State) {
	s.mu.Lock()
	prev := s.lastStatus
	s.lastStatus = st.Status
	s.mu.Unlock()

	switch {
	case st.Status == model.ConnectivityDisconnected && prev != model.ConnectivityDisconnected:
		audit.Log(context.Background(), audit.Event{
			Type:    audit.EventConnectivityLost,
			Details: map[string]any{"error": st.LastError},
		})
	case st.Status == model.ConnectivityConnected && prev == model.ConnectivityDisconnected:
		audit.Log(context.Background(), audit.Event{Type: audit.EventConnectivityBack})
	}

	s.broker.PublishJSON(Topic, EventState, View{
		Route:        routeFor(s.store.IsPaired(), st),
		Paired:       s.store.IsPaired(),
		Connectivity: st,
		Pairing:      s.pairing.Snapshot(),
	})
}
