package game

import (
	"sync"
	"time"
)

// Scheduler produces per-lobby, cancelable countdown timers that fire
// exactly once unless canceled first. Keys are lobby-scoped: arming a key
// that already has a pending timer replaces it, so restarting a round never
// stacks timers for the same lobby.
type Scheduler struct {
	mu     sync.Mutex
	active map[string]*Handle
}

// Handle identifies one armed timer.
type Handle struct {
	key   string
	timer *time.Timer
	done  bool // fired or canceled; guarded by Scheduler.mu
}

func NewScheduler() *Scheduler {
	return &Scheduler{active: make(map[string]*Handle)}
}

// Arm schedules fn to run once after d. Any pending timer under the same
// key is canceled first.
func (s *Scheduler) Arm(key string, d time.Duration, fn func()) *Handle {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old := s.active[key]; old != nil {
		old.done = true
		old.timer.Stop()
	}

	h := &Handle{key: key}
	h.timer = time.AfterFunc(d, func() { s.fire(h, fn) })
	s.active[key] = h
	return h
}

// fire runs the callback unless cancellation won the race. The done flag is
// settled under the lock, so firing and canceling are mutually exclusive.
func (s *Scheduler) fire(h *Handle, fn func()) {
	s.mu.Lock()
	if h.done {
		s.mu.Unlock()
		return
	}
	h.done = true
	if s.active[h.key] == h {
		delete(s.active, h.key)
	}
	s.mu.Unlock()

	fn()
}

// Cancel stops the timer. Safe after firing and safe to repeat; once the
// callback has begun, Cancel has no retroactive effect.
func (s *Scheduler) Cancel(h *Handle) {
	if h == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if h.done {
		return
	}
	h.done = true
	h.timer.Stop()
	if s.active[h.key] == h {
		delete(s.active, h.key)
	}
}

// CancelKey cancels whatever timer is pending for the key, if any.
func (s *Scheduler) CancelKey(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h := s.active[key]; h != nil {
		h.done = true
		h.timer.Stop()
		delete(s.active, key)
	}
}
