package timer

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestScheduleFires(t *testing.T) {
	s := New()
	var fired int32

	s.Schedule(10*time.Millisecond, func() { atomic.AddInt32(&fired, 1) })

	time.Sleep(100 * time.Millisecond)
	if atomic.LoadInt32(&fired) != 1 {
		t.Fatalf("expected callback to fire once, got %d", fired)
	}
}

func TestCancelPreventsFire(t *testing.T) {
	s := New()
	var fired int32

	h := s.Schedule(20*time.Millisecond, func() { atomic.AddInt32(&fired, 1) })
	s.Cancel(h)

	time.Sleep(80 * time.Millisecond)
	if atomic.LoadInt32(&fired) != 0 {
		t.Fatalf("expected canceled timer not to fire, got %d", fired)
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	s := New()
	h := s.Schedule(20*time.Millisecond, func() {})

	s.Cancel(h)
	s.Cancel(h) // must not panic
}

func TestRearmInvalidatesPriorHandle(t *testing.T) {
	s := New()
	var firstFired, secondFired int32

	first := s.Schedule(15*time.Millisecond, func() { atomic.AddInt32(&firstFired, 1) })
	_ = first
	// arm a new timer without an explicit Cancel call in between: the
	// generation bump in Schedule alone must keep a raced fire of the
	// stale timer from counting.
	s.Schedule(15*time.Millisecond, func() { atomic.AddInt32(&secondFired, 1) })

	time.Sleep(60 * time.Millisecond)
	if atomic.LoadInt32(&firstFired) != 0 {
		t.Fatalf("expected stale timer to be suppressed, got %d fires", firstFired)
	}
	if atomic.LoadInt32(&secondFired) != 1 {
		t.Fatalf("expected current timer to fire once, got %d", secondFired)
	}
}

func TestLoopIsUsedWhenSet(t *testing.T) {
	s := New()
	marshaled := make(chan func(), 1)
	s.Loop = func(cb func()) { marshaled <- cb }

	s.Schedule(5*time.Millisecond, func() {})

	select {
	case cb := <-marshaled:
		cb()
	case <-time.After(200 * time.Millisecond):
		t.Fatal("expected the callback to be handed to Loop")
	}
}
