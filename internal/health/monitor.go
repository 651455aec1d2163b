// Package health tracks backend reachability for a paired device.
package health

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/soloras/hub-agent/internal/config"
	"github.com/soloras/hub-agent/internal/model"
	"github.com/soloras/hub-agent/internal/notify"
)

// ErrFailSafe marks a check that did not complete before its fail-safe fired.
var ErrFailSafe = errors.New("liveness check timed out")

type Checker interface {
	Check(ctx context.Context) error
}

type PairedChecker interface {
	IsPaired() bool
}

type State struct {
	Status              model.ConnectivityStatus `json:"status"`
	Active              bool                     `json:"active"`
	LastCheckedAt       *time.Time               `json:"lastCheckedAt,omitempty"`
	ConsecutiveFailures int                      `json:"consecutiveFailures"`
	LastError           string                   `json:"lastError,omitempty"`
}

type inflight struct {
	failSafe *time.Timer
	cancel   context.CancelFunc
}

type Monitor struct {
	checker  Checker
	creds    PairedChecker
	interval time.Duration
	failSafe time.Duration

	mu        sync.Mutex
	running   bool
	epoch     uint64
	tick      *time.Timer
	nextID    uint64
	appliedID uint64
	checks    map[uint64]*inflight
	state     State
	changes   notify.Serial[State]
}

func NewMonitor(checker Checker, creds PairedChecker, interval, failSafe time.Duration) *Monitor {
	if interval <= 0 {
		interval = config.DefaultHealthInterval
	}
	if failSafe <= 0 {
		failSafe = config.DefaultHealthFailSafe
	}
	return &Monitor{
		checker:  checker,
		creds:    creds,
		interval: interval,
		failSafe: failSafe,
		checks:   make(map[uint64]*inflight),
		state:    State{Status: model.ConnectivityUnknown},
	}
}

// OnChange registers fn for every state update. Listeners run without the
// monitor lock held and see updates in the order they were applied.
func (m *Monitor) OnChange(fn func(State)) {
	m.changes.Listen(fn)
}

func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Monitor) Start() {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	_, launch := m.activateLocked()
	m.mu.Unlock()

	m.emit()
	if launch != nil {
		launch()
	}
}

// Stop cancels the interval timer, every fail-safe timer and any in-flight
// check. Results arriving afterwards are discarded.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	m.running = false
	m.teardownLocked()
}

// Reload re-evaluates the paired state after the credential changed.
func (m *Monitor) Reload() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.teardownLocked()
	snap, launch := m.activateLocked()
	m.mu.Unlock()

	log.Info().Bool("active", snap.Active).Msg("connectivity monitor reloaded")
	m.emit()
	if launch != nil {
		launch()
	}
}

// RetryNow runs a check immediately without touching the interval schedule.
func (m *Monitor) RetryNow() {
	m.mu.Lock()
	epoch := m.epoch
	active := m.running && m.state.Active
	m.mu.Unlock()

	if active {
		m.launch(epoch)
	}
}

func (m *Monitor) teardownLocked() {
	m.epoch++
	if m.tick != nil {
		m.tick.Stop()
		m.tick = nil
	}
	for id, c := range m.checks {
		c.failSafe.Stop()
		c.cancel()
		delete(m.checks, id)
	}
}

// activateLocked resets state for the current credential and returns the
// first check to run once the lock is released.
func (m *Monitor) activateLocked() (State, func()) {
	m.epoch++
	epoch := m.epoch
	m.appliedID = m.nextID

	if !m.creds.IsPaired() {
		m.state = State{Status: model.ConnectivityConnected}
		m.changes.Enqueue(m.state)
		return m.state, nil
	}

	m.state = State{Status: model.ConnectivityUnknown, Active: true}
	m.changes.Enqueue(m.state)
	m.armTickLocked(epoch)
	return m.state, func() { m.launch(epoch) }
}

func (m *Monitor) armTickLocked(epoch uint64) {
	if m.tick != nil {
		m.tick.Stop()
	}
	m.tick = time.AfterFunc(m.interval, func() {
		m.mu.Lock()
		if epoch != m.epoch {
			m.mu.Unlock()
			return
		}
		m.armTickLocked(epoch)
		m.mu.Unlock()

		m.launch(epoch)
	})
}

func (m *Monitor) launch(epoch uint64) {
	m.mu.Lock()
	if epoch != m.epoch || !m.running {
		m.mu.Unlock()
		return
	}

	if !m.creds.IsPaired() {
		m.teardownLocked()
		m.state = State{Status: model.ConnectivityConnected}
		m.changes.Enqueue(m.state)
		m.mu.Unlock()

		log.Info().Msg("credential gone, connectivity monitor inactive")
		m.emit()
		return
	}

	m.nextID++
	id := m.nextID
	ctx, cancel := context.WithTimeout(context.Background(), m.failSafe)
	m.checks[id] = &inflight{
		cancel:   cancel,
		failSafe: time.AfterFunc(m.failSafe, func() { m.settle(epoch, id, ErrFailSafe) }),
	}
	m.mu.Unlock()

	go func() {
		err := m.checker.Check(ctx)
		m.settle(epoch, id, err)
	}()
}

// settle applies the first outcome of check id, whether from the checker or
// its fail-safe. Later outcomes, outcomes from an older epoch and outcomes
// older than an already applied check are dropped.
func (m *Monitor) settle(epoch, id uint64, err error) {
	m.mu.Lock()
	c, ok := m.checks[id]
	if !ok || epoch != m.epoch {
		m.mu.Unlock()
		return
	}
	delete(m.checks, id)
	c.failSafe.Stop()
	c.cancel()

	if id < m.appliedID {
		m.mu.Unlock()
		log.Debug().Uint64("check", id).Msg("discarding superseded liveness result")
		return
	}
	m.appliedID = id

	prev := m.state.Status
	now := time.Now()
	m.state.LastCheckedAt = &now
	if err == nil {
		m.state.Status = model.ConnectivityConnected
		m.state.ConsecutiveFailures = 0
		m.state.LastError = ""
	} else {
		m.state.Status = model.ConnectivityDisconnected
		m.state.ConsecutiveFailures++
		m.state.LastError = err.Error()
	}
	snap := m.state
	m.changes.Enqueue(snap)
	m.mu.Unlock()

	switch {
	case prev != snap.Status:
		log.Info().
			Str("from", string(prev)).
			Str("to", string(snap.Status)).
			Int("failures", snap.ConsecutiveFailures).
			Msg("connectivity changed")
	case err != nil:
		log.Debug().Err(err).Int("failures", snap.ConsecutiveFailures).Msg("liveness check failed")
	}
	m.emit()
}

// emit delivers queued states. Call without m.mu held.
func (m *Monitor) emit() {
	m.changes.Flush()
}
