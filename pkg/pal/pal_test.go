package pal

import (
	"errors"
	"testing"
	"time"
)

func TestSimTimerOrder(t *testing.T) {
	s := NewSim()
	var order []int

	s.StartTimer(1, 30*time.Microsecond, func() { order = append(order, 1) })
	s.StartTimer(2, 10*time.Microsecond, func() { order = append(order, 2) })
	s.After(20*time.Microsecond, func() { order = append(order, 3) })

	for s.Step() {
	}

	want := []int{2, 3, 1}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
	if s.Now() != 30*time.Microsecond {
		t.Errorf("Now() = %v, want 30µs", s.Now())
	}
}

func TestSimTimerErrors(t *testing.T) {
	s := NewSim()

	if err := s.StartTimer(1, 0, func() {}); !errors.Is(err, ErrInvalidTimeout) {
		t.Errorf("zero timeout: %v", err)
	}
	if err := s.StartTimer(1, time.Millisecond, func() {}); err != nil {
		t.Fatalf("StartTimer: %v", err)
	}
	if err := s.StartTimer(1, time.Millisecond, func() {}); !errors.Is(err, ErrTimerRunning) {
		t.Errorf("restart of running timer: %v", err)
	}
	if err := s.StopTimer(1); err != nil {
		t.Errorf("StopTimer: %v", err)
	}
	if err := s.StopTimer(1); !errors.Is(err, ErrTimerNotRunning) {
		t.Errorf("second StopTimer: %v", err)
	}
	if s.Pending() != 0 {
		t.Errorf("Pending() = %d after stop, want 0", s.Pending())
	}
}

func TestSimTimerSlotFreedBeforeCallback(t *testing.T) {
	s := NewSim()
	rearmed := false

	s.StartTimer(5, time.Microsecond, func() {
		if err := s.StartTimer(5, time.Microsecond, func() {}); err == nil {
			rearmed = true
		}
	})
	s.Step()

	if !rearmed {
		t.Error("timer slot still busy inside its own callback")
	}
}

func TestSimDelayFiresDueEvents(t *testing.T) {
	s := NewSim()
	fired := false
	s.After(5*time.Microsecond, func() { fired = true })

	s.Delay(4 * time.Microsecond)
	if fired {
		t.Fatal("event fired early")
	}
	s.Delay(time.Microsecond)
	if !fired {
		t.Fatal("event did not fire when due")
	}
}

func TestSimCriticalRegionHoldsEvents(t *testing.T) {
	s := NewSim()
	fired := false
	s.After(time.Microsecond, func() { fired = true })

	s.Lock()
	s.Delay(10 * time.Microsecond)
	if fired {
		t.Fatal("event fired inside critical region")
	}
	s.Unlock()

	s.Advance(0)
	if !fired {
		t.Fatal("pending event not fired after leaving critical region")
	}
}

func TestSimCancel(t *testing.T) {
	s := NewSim()
	fired := false
	cancel := s.After(time.Microsecond, func() { fired = true })
	cancel()
	cancel()

	if s.Step() || fired {
		t.Error("cancelled event fired")
	}
}

func TestHostPollRunsCallbacks(t *testing.T) {
	h := NewHost()
	done := make(chan struct{})

	if err := h.StartTimer(1, time.Millisecond, func() { close(done) }); err != nil {
		t.Fatalf("StartTimer: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if h.Poll() > 0 {
			break
		}
		time.Sleep(time.Millisecond)
	}

	select {
	case <-done:
	default:
		t.Fatal("callback not run by Poll")
	}
	if h.TimerRunning(1) {
		t.Error("timer still marked running after its callback")
	}
}

func TestHostStoppedTimerDropped(t *testing.T) {
	h := NewHost()
	ran := false

	h.StartTimer(1, time.Millisecond, func() { ran = true })
	time.Sleep(5 * time.Millisecond)
	h.StopTimer(1)
	h.Poll()

	if ran {
		t.Error("callback of a stopped timer ran")
	}
}

func TestSimNodesHaveSeparateTimers(t *testing.T) {
	s := NewSim()
	a, b := s.Node(0), s.Node(1)

	var fired []string
	if err := a.StartTimer(1, time.Millisecond, func() { fired = append(fired, "a") }); err != nil {
		t.Fatal(err)
	}
	if err := b.StartTimer(1, 2*time.Millisecond, func() { fired = append(fired, "b") }); err != nil {
		t.Fatalf("same slot on another node: %v", err)
	}
	if !a.TimerRunning(1) || s.TimerRunning(1) {
		t.Error("node slots leak into the shared namespace")
	}
	if err := b.StopTimer(1); err != nil {
		t.Fatal(err)
	}
	s.Advance(5 * time.Millisecond)
	if len(fired) != 1 || fired[0] != "a" {
		t.Errorf("fired %v", fired)
	}
}
