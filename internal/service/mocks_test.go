package service

import (
	"context"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/soloras/hub-agent/internal/database"
	"github.com/soloras/hub-agent/internal/model"
	"github.com/soloras/hub-agent/internal/repository"
)

type memSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]*model.PairingSession
	createFn func(params model.CreatePairingSessionParams) error
	// beforeMark runs ahead of MarkClaimed and MarkPaired, standing in for a
	// concurrent writer.
	beforeMark func(s *model.PairingSession)
}

func newMemSessionRepo() *memSessionRepo {
	return &memSessionRepo{sessions: make(map[string]*model.PairingSession)}
}

func (m *memSessionRepo) WithTx(*sqlx.Tx) repository.PairingSessionRepository { return m }

func (m *memSessionRepo) get(id string) *model.PairingSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := *m.sessions[id]
	return &s
}

func (m *memSessionRepo) FindByID(_ context.Context, id string) (*model.PairingSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (m *memSessionRepo) FindOpenByCode(_ context.Context, code string) (*model.PairingSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.Code == code && !s.Status.Terminal() {
			cp := *s
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memSessionRepo) Create(_ context.Context, p model.CreatePairingSessionParams) (*model.PairingSession, error) {
	if m.createFn != nil {
		if err := m.createFn(p); err != nil {
			return nil, err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s := &model.PairingSession{
		ID:        p.ID,
		Code:      p.Code,
		Kind:      p.Kind,
		HubID:     p.HubID,
		Status:    model.SessionStatusPending,
		ClientIP:  p.ClientIP,
		ExpiresAt: p.ExpiresAt,
		CreatedAt: time.Now(),
	}
	m.sessions[s.ID] = s
	cp := *s
	return &cp, nil
}

func (m *memSessionRepo) MarkClaimed(_ context.Context, id string, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.sessions[id]
	if m.beforeMark != nil {
		m.beforeMark(s)
	}
	if s.Status != model.SessionStatusPending {
		return repository.ErrNotUpdated
	}
	now := time.Now()
	s.Status = model.SessionStatusClaimed
	s.UserID = &userID
	s.ClaimedAt = &now
	return nil
}

func (m *memSessionRepo) MarkPaired(_ context.Context, id string, hubID string, issuedToken *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.sessions[id]
	if m.beforeMark != nil {
		m.beforeMark(s)
	}
	if s.Status.Terminal() {
		return repository.ErrNotUpdated
	}
	now := time.Now()
	s.Status = model.SessionStatusPaired
	s.HubID = &hubID
	s.IssuedToken = issuedToken
	s.PairedAt = &now
	return nil
}

func (m *memSessionRepo) MarkExpired(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[id].Status = model.SessionStatusExpired
	return nil
}

func (m *memSessionRepo) ExpireStale(context.Context) (int64, error) { return 0, nil }

func (m *memSessionRepo) DeleteFinished(context.Context, time.Time) (int64, error) { return 0, nil }

type memHubRepo struct {
	mu       sync.Mutex
	hubs     map[string]*model.Hub
	lastSeen map[string]time.Time
}

func newMemHubRepo() *memHubRepo {
	return &memHubRepo{hubs: make(map[string]*model.Hub), lastSeen: make(map[string]time.Time)}
}

func (m *memHubRepo) WithTx(*sqlx.Tx) repository.HubRepository { return m }

func (m *memHubRepo) FindByID(_ context.Context, id string) (*model.Hub, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.hubs[id]
	if !ok {
		return nil, nil
	}
	cp := *h
	return &cp, nil
}

func (m *memHubRepo) Create(_ context.Context, id, name string) (*model.Hub, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := &model.Hub{ID: id, Name: name, CreatedAt: time.Now()}
	m.hubs[id] = h
	cp := *h
	return &cp, nil
}

func (m *memHubRepo) TouchLastSeen(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastSeen[id] = at
	return nil
}

type memDeviceRepo struct {
	mu      sync.Mutex
	devices []model.Device
}

func (m *memDeviceRepo) WithTx(*sqlx.Tx) repository.DeviceRepository { return m }

func (m *memDeviceRepo) FindByTokenHash(_ context.Context, tokenHash string) (*model.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.devices {
		if d.TokenHash == tokenHash {
			cp := d
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memDeviceRepo) Create(_ context.Context, d model.Device) (*model.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d.CreatedAt = time.Now()
	m.devices = append(m.devices, d)
	return &d, nil
}

func (m *memDeviceRepo) Revoke(context.Context, string) error { return nil }

type fakeTx struct {
	calls     int
	rollbacks int
}

func (f *fakeTx) WithTx(_ context.Context, fn database.TxFunc) error {
	f.calls++
	err := fn(nil)
	if err != nil {
		f.rollbacks++
	}
	return err
}

type fakePresence struct {
	mu   sync.Mutex
	seen map[string]time.Time
	err  error
}

func (f *fakePresence) RecordPresence(_ context.Context, hubID string, at time.Time, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.seen == nil {
		f.seen = make(map[string]time.Time)
	}
	f.seen[hubID] = at
	return f.err
}
