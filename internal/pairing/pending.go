package pairing

import (
	"context"
	"sync"

	"github.com/soloras/hub-agent/internal/model"
)

// Result is the terminal outcome of a session. Err is nil on success.
type Result struct {
	Kind        model.PairingKind
	PairingID   string
	HubID       string
	UserID      string
	DeviceToken string
	Err         error
}

// Pending yields at most one Result and is then closed. A close without a
// value means the session was cancelled.
type Pending struct {
	ch   chan Result
	once sync.Once
}

func newPending() *Pending {
	return &Pending{ch: make(chan Result, 1)}
}

func (p *Pending) Done() <-chan Result {
	return p.ch
}

func (p *Pending) Wait(ctx context.Context) (Result, error) {
	select {
	case r, ok := <-p.ch:
		if !ok {
			return Result{}, ErrCancelled
		}
		return r, r.Err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func (p *Pending) deliver(r Result) {
	p.once.Do(func() {
		p.ch <- r
		close(p.ch)
	})
}

func (p *Pending) cancel() {
	p.once.Do(func() {
		close(p.ch)
	})
}
