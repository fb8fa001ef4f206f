// Package timer implements sasl.Timer on top of time.AfterFunc.
// Callbacks are handed to Service.Loop when it is set, so a caller can
// serialize them onto its own event loop; with Loop nil they run on the
// time.AfterFunc goroutine. Canceling a handle is idempotent, including
// for a handle whose timer already fired.
package timer

import (
	"sync"
	"time"
)

// Service is a sasl.Timer. The zero value is not usable; use New.
// Its generation counter is scoped to a single logical timer line, so
// each sasl.Session must be given its own Service — sharing one across
// sessions would let one session's Schedule call invalidate another
// session's still-pending timer.
//
// Handles are generation-tagged: arming a new timer bumps a counter,
// and a fired callback checks its own generation against the current
// one before running. This closes the race where a timer fires just
// as the session is canceling and re-arming it for an unrelated
// reason — the stale callback observes it is no longer current and
// does nothing, instead of resurrecting a canceled attempt.
type Service struct {
	// Loop, if set, is called with the callback instead of running it
	// directly, so the caller can marshal it onto its own event loop
	// (a channel send, an io.Conn's goroutine, etc). If nil, the
	// callback runs directly on the time.AfterFunc goroutine.
	Loop func(func())

	mu  sync.Mutex
	gen uint64
}

func New() *Service { return &Service{} }

type handle struct {
	gen   uint64
	timer *time.Timer
}

// Schedule implements sasl.Timer.
func (s *Service) Schedule(d time.Duration, callback func()) any {
	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.mu.Unlock()

	h := &handle{gen: gen}
	h.timer = time.AfterFunc(d, func() {
		s.mu.Lock()
		current := s.gen == gen
		s.mu.Unlock()
		if !current {
			return
		}
		if s.Loop != nil {
			s.Loop(callback)
		} else {
			callback()
		}
	})
	return h
}

// Cancel implements sasl.Timer. It is safe to call with a handle that
// already fired or was already canceled.
func (s *Service) Cancel(h any) {
	hh, ok := h.(*handle)
	if !ok || hh == nil {
		return
	}
	hh.timer.Stop()

	s.mu.Lock()
	if s.gen == hh.gen {
		s.gen++
	}
	s.mu.Unlock()
}
