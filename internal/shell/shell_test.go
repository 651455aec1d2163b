package shell

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soloras/hub-agent/internal/credstore"
	"github.com/soloras/hub-agent/internal/health"
	"github.com/soloras/hub-agent/internal/model"
	"github.com/soloras/hub-agent/internal/pairing"
	"github.com/soloras/hub-agent/internal/sse"
	"github.com/soloras/hub-agent/internal/vault"
)

const (
	waitFor = 2 * time.Second
	tick    = 2 * time.Millisecond
)

type fakeTransport struct {
	status atomic.Value // model.StatusResponse
}

func (f *fakeTransport) CreatePairingSession(_ context.Context, req model.CreateSessionRequest) (*model.CreateSessionResponse, error) {
	return &model.CreateSessionResponse{PairingID: "p-" + string(req.Type), PairingCode: "AB3D-XY7Z"}, nil
}

func (f *fakeTransport) PairingStatus(context.Context, string) (*model.StatusResponse, error) {
	s := f.status.Load().(model.StatusResponse)
	return &s, nil
}

type fakeChecker struct {
	fail atomic.Bool
}

func (f *fakeChecker) Check(context.Context) error {
	if f.fail.Load() {
		return errors.New("unreachable")
	}
	return nil
}

type fixture struct {
	shell     *Shell
	store     *credstore.Store
	transport *fakeTransport
	checker   *fakeChecker
	broker    *sse.Broker
	events    *sse.Client
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := credstore.New(filepath.Join(t.TempDir(), "device-token.bin"), vault.Unavailable{})
	ft := &fakeTransport{}
	ft.status.Store(model.StatusResponse{Status: model.SessionStatusPending})
	chk := &fakeChecker{}

	pc := pairing.New(ft, 5*time.Millisecond)
	mon := health.NewMonitor(chk, store, time.Hour, time.Hour)
	broker := sse.NewBroker()
	events := broker.Subscribe(Topic)

	s := New(store, pc, mon, broker)
	t.Cleanup(s.Stop)

	return &fixture{shell: s, store: store, transport: ft, checker: chk, broker: broker, events: events}
}

func (f *fixture) nextEvent(t *testing.T, eventType string) sse.Event {
	t.Helper()
	deadline := time.After(waitFor)
	for {
		select {
		case ev := <-f.events.Events:
			if ev.Type == eventType {
				return ev
			}
		case <-deadline:
			t.Fatalf("no %s event", eventType)
		}
	}
}

func (f *fixture) routeIs(r model.Route) func() bool {
	return func() bool { return f.shell.Route() == r }
}

func TestRouteFor(t *testing.T) {
	cases := []struct {
		paired bool
		status model.ConnectivityStatus
		want   model.Route
	}{
		{false, model.ConnectivityConnected, model.RouteOnboarding},
		{false, model.ConnectivityDisconnected, model.RouteOnboarding},
		{true, model.ConnectivityUnknown, model.RouteChecking},
		{true, model.ConnectivityDisconnected, model.RouteReconnecting},
		{true, model.ConnectivityConnected, model.RouteMain},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, routeFor(tc.paired, health.State{Status: tc.status}))
	}
}

func TestInitialRoute(t *testing.T) {
	t.Run("onboarding without credential", func(t *testing.T) {
		f := newFixture(t)
		f.shell.Start()
		assert.Equal(t, model.RouteOnboarding, f.shell.Route())
	})

	t.Run("main when stored credential checks out", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.store.Put("existing"))
		f.shell.Start()
		require.Eventually(t, f.routeIs(model.RouteMain), waitFor, tick)
	})

	t.Run("reconnecting when backend is unreachable", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.store.Put("existing"))
		f.checker.fail.Store(true)
		f.shell.Start()
		require.Eventually(t, f.routeIs(model.RouteReconnecting), waitFor, tick)

		f.checker.fail.Store(false)
		f.shell.RetryConnection()
		require.Eventually(t, f.routeIs(model.RouteMain), waitFor, tick)
	})
}

func TestHubClaimStoresCredentialAndRestarts(t *testing.T) {
	f := newFixture(t)
	var restarts atomic.Int32
	f.shell.OnRestart(func() { restarts.Add(1) })
	f.shell.Start()

	snap, err := f.shell.StartPairing(context.Background(), model.PairingKindHubClaim, "")
	require.NoError(t, err)
	assert.Equal(t, "p-hub", snap.PairingID)

	f.transport.status.Store(model.StatusResponse{Status: model.SessionStatusPaired, HubID: "hub-1", DeviceToken: "fresh-token"})

	ev := f.nextEvent(t, EventPairingResult)
	var outcome PairingOutcome
	require.NoError(t, json.Unmarshal(ev.Data, &outcome))
	assert.True(t, outcome.Stored)
	assert.Equal(t, "hub-1", outcome.HubID)
	assert.NotContains(t, string(ev.Data), "fresh-token")

	assert.Equal(t, "fresh-token", f.store.Get())
	assert.Equal(t, int32(1), restarts.Load())
	require.Eventually(t, f.routeIs(model.RouteMain), waitFor, tick)
}

func TestDevicePairDoesNotTouchCredential(t *testing.T) {
	f := newFixture(t)
	f.shell.Start()

	_, err := f.shell.StartPairing(context.Background(), model.PairingKindDevicePair, "hub-1")
	require.NoError(t, err)
	f.transport.status.Store(model.StatusResponse{Status: model.SessionStatusPaired, HubID: "hub-1", DeviceToken: "companion-token"})

	ev := f.nextEvent(t, EventPairingResult)
	var outcome PairingOutcome
	require.NoError(t, json.Unmarshal(ev.Data, &outcome))
	assert.False(t, outcome.Stored)
	assert.Equal(t, model.PairingKindDevicePair, outcome.Kind)
	assert.False(t, f.store.IsPaired())
	assert.Equal(t, model.RouteOnboarding, f.shell.Route())
}

func TestStartPairingValidation(t *testing.T) {
	f := newFixture(t)
	_, err := f.shell.StartPairing(context.Background(), model.PairingKindMemberLink, "")
	assert.Error(t, err)
}

func TestUnpair(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.Put("existing"))
	f.shell.Start()
	require.Eventually(t, f.routeIs(model.RouteMain), waitFor, tick)

	require.NoError(t, f.shell.Unpair(context.Background()))
	assert.False(t, f.store.IsPaired())
	assert.Equal(t, model.RouteOnboarding, f.shell.Route())
	assert.False(t, f.shell.View().Connectivity.Active)

	require.NoError(t, f.shell.Unpair(context.Background()))
}

func TestFactoryReset(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.Put("existing"))
	f.shell.Start()

	_, err := f.shell.StartPairing(context.Background(), model.PairingKindDevicePair, "hub-1")
	require.NoError(t, err)

	require.NoError(t, f.shell.FactoryReset(context.Background()))
	view := f.shell.View()
	assert.Equal(t, model.RouteOnboarding, view.Route)
	assert.Equal(t, pairing.StateIdle, view.Pairing.State)
	assert.False(t, view.Paired)
}

func TestStateEvents(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.Put("existing"))
	f.shell.Start()

	deadline := time.After(waitFor)
	for {
		select {
		case ev := <-f.events.Events:
			if ev.Type != EventState {
				continue
			}
			var view View
			require.NoError(t, json.Unmarshal(ev.Data, &view))
			if view.Route == model.RouteMain {
				assert.True(t, view.Paired)
				return
			}
		case <-deadline:
			t.Fatal("never published main route")
		}
	}
}

func TestPairingQR(t *testing.T) {
	f := newFixture(t)

	_, err := f.shell.PairingQR()
	assert.Error(t, err)

	_, err = f.shell.StartPairing(context.Background(), model.PairingKindDevicePair, "hub-1")
	require.NoError(t, err)
	assert.Equal(t, "p-device", f.shell.Pairing().PairingID)

	png, err := f.shell.PairingQR()
	require.NoError(t, err)
	assert.Equal(t, []byte("\x89PNG"), png[:4])
}
