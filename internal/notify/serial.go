// Package notify delivers state updates to listeners in the order the owner
// recorded them.
package notify

import "sync"

// Serial queues values and hands them to listeners one at a time.
//
// Owners call Enqueue while holding their own lock, so queue order matches
// the order state changed, and Flush after releasing it. Flush delivers on
// the calling goroutine unless another goroutine is already delivering, in
// which case that goroutine picks the new values up and Flush returns
// immediately. Listeners therefore never observe an older value after a
// newer one, and a slow listener never blocks an unrelated caller.
type Serial[T any] struct {
	mu        sync.Mutex
	listeners []func(T)
	queue     []T
	draining  bool
}

func (s *Serial[T]) Listen(fn func(T)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

func (s *Serial[T]) Enqueue(v T) {
	s.mu.Lock()
	s.queue = append(s.queue, v)
	s.mu.Unlock()
}

func (s *Serial[T]) Flush() {
	s.mu.Lock()
	if s.draining {
		s.mu.Unlock()
		return
	}
	s.draining = true
	for len(s.queue) > 0 {
		next := s.queue[0]
		var zero T
		s.queue[0] = zero
		s.queue = s.queue[1:]
		listeners := append([]func(T){}, s.listeners...)
		s.mu.Unlock()

		for _, fn := range listeners {
			fn(next)
		}

		s.mu.Lock()
	}
	s.draining = false
	s.mu.Unlock()
}
