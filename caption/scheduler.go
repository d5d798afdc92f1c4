package caption

import (
	"time"

	"go.aimuz.me/livecaption/internal/loop"
)

// Scheduler runs caption actions at their presentation deadline:
// stream start + elapsed + delay. It must only be used from the loop.
type Scheduler struct {
	exec  loop.Executor
	start time.Time
	delay time.Duration

	pending map[uint64]loop.Timer
	nextID  uint64
}

// NewScheduler creates a scheduler on exec.
func NewScheduler(exec loop.Executor) *Scheduler {
	return &Scheduler{
		exec:    exec,
		pending: make(map[uint64]loop.Timer),
	}
}

// Begin anchors deadlines to start and fixes the delay budget for the
// session.
func (s *Scheduler) Begin(start time.Time, delay time.Duration) {
	s.start = start
	s.delay = max(delay, 0)
}

// Start returns the session anchor.
func (s *Scheduler) Start() time.Time { return s.start }

// Delay returns the session delay budget.
func (s *Scheduler) Delay() time.Duration { return s.delay }

// Deadline returns the wall-clock time an event at elapsed is presented.
func (s *Scheduler) Deadline(elapsed time.Duration) time.Time {
	return s.start.Add(elapsed + s.delay)
}

// Schedule arranges for action to run at the deadline for elapsed. A
// deadline that has already passed runs action before Schedule returns.
func (s *Scheduler) Schedule(elapsed time.Duration, action func()) {
	wait := s.Deadline(elapsed).Sub(s.exec.Now())
	if wait <= 0 {
		action()
		return
	}

	id := s.nextID
	s.nextID++
	s.pending[id] = s.exec.AfterFunc(wait, func() {
		if _, ok := s.pending[id]; !ok {
			return
		}
		delete(s.pending, id)
		action()
	})
}

// Pending returns the number of actions waiting for their deadline.
func (s *Scheduler) Pending() int { return len(s.pending) }

// ResetAll cancels every pending action without running it.
func (s *Scheduler) ResetAll() {
	for id, t := range s.pending {
		t.Stop()
		delete(s.pending, id)
	}
}
