package app

import (
	"context"
	"sync"
	"sync/atomic"

	"go.aimuz.me/livecaption/internal/session"
)

// LiveAdapter holds the running session with proper synchronization.
// Start and Stop are serialized; Current never blocks, so it is safe to call
// from the loop while a Start is connecting.
type LiveAdapter struct {
	mu      sync.Mutex
	current atomic.Pointer[session.Session]
}

// Start starts s. Stops any existing session first.
func (la *LiveAdapter) Start(ctx context.Context, s *session.Session) error {
	la.mu.Lock()
	defer la.mu.Unlock()

	if old := la.current.Swap(nil); old != nil {
		old.Stop()
	}

	la.current.Store(s)
	if err := s.Start(ctx); err != nil {
		la.current.CompareAndSwap(s, nil)
		return err
	}
	return nil
}

// Stop stops the running session. It reports whether one was running.
func (la *LiveAdapter) Stop() bool {
	la.mu.Lock()
	defer la.mu.Unlock()

	s := la.current.Swap(nil)
	if s == nil {
		return false
	}
	s.Stop()
	return true
}

// Current returns the running session, or nil.
func (la *LiveAdapter) Current() *session.Session { return la.current.Load() }

// release forgets s if it is still current. Used once s has ended on its own.
func (la *LiveAdapter) release(s *session.Session) {
	la.current.CompareAndSwap(s, nil)
}
