package pal

import (
	"context"
	"sync"
	"time"
)

type hostTimer struct {
	timer *time.Timer
	gen   uint64
}

type expiry struct {
	id  TimerID
	gen uint64
	fn  func()
}

// Host is a wall-clock platform. Timer callbacks are not run on the timer
// goroutine: they are queued and executed by Poll on the caller's goroutine,
// so the transceiver state machine is only ever touched from the main loop.
type Host struct {
	region sync.Mutex
	start  time.Time

	mu     sync.Mutex
	gen    uint64
	timers map[TimerID]*hostTimer
	fired  chan expiry
}

// NewHost returns a host platform whose clock starts now
func NewHost() *Host {
	return &Host{
		start:  time.Now(),
		timers: make(map[TimerID]*hostTimer),
		fired:  make(chan expiry, 64),
	}
}

// Lock enters the critical region
func (h *Host) Lock() {
	h.region.Lock()
}

// Unlock leaves the critical region
func (h *Host) Unlock() {
	h.region.Unlock()
}

// Now implements Platform
func (h *Host) Now() time.Duration {
	return time.Since(h.start)
}

// Delay implements Platform. Sub-millisecond waits spin because the
// scheduler cannot sleep that precisely.
func (h *Host) Delay(d time.Duration) {
	if d >= time.Millisecond {
		time.Sleep(d)
		return
	}
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
	}
}

// StartTimer implements Platform
func (h *Host) StartTimer(id TimerID, d time.Duration, fn func()) error {
	if d <= 0 {
		return ErrInvalidTimeout
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.timers[id]; ok {
		return ErrTimerRunning
	}
	h.gen++
	gen := h.gen
	t := &hostTimer{gen: gen}
	t.timer = time.AfterFunc(d, func() {
		h.fired <- expiry{id: id, gen: gen, fn: fn}
	})
	h.timers[id] = t
	return nil
}

// StopTimer implements Platform
func (h *Host) StopTimer(id TimerID) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	t, ok := h.timers[id]
	if !ok {
		return ErrTimerNotRunning
	}
	t.timer.Stop()
	delete(h.timers, id)
	return nil
}

// TimerRunning implements Platform
func (h *Host) TimerRunning(id TimerID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.timers[id]
	return ok
}

// Poll runs every queued timer callback and returns how many ran.
// Callbacks of timers stopped after they expired are dropped.
func (h *Host) Poll() int {
	n := 0
	for {
		select {
		case e := <-h.fired:
			if h.claim(e) {
				e.fn()
				n++
			}
		default:
			return n
		}
	}
}

// Wait blocks until a timer callback is queued, the interval passes or ctx
// is done, then polls. Main loops use it to avoid spinning.
func (h *Host) Wait(ctx context.Context, interval time.Duration) error {
	t := time.NewTimer(interval)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case e := <-h.fired:
		if h.claim(e) {
			e.fn()
		}
	case <-t.C:
	}
	h.Poll()
	return nil
}

func (h *Host) claim(e expiry) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	t, ok := h.timers[e.id]
	if !ok || t.gen != e.gen {
		return false
	}
	delete(h.timers, e.id)
	return true
}
