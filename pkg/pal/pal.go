// Package pal is the platform layer the transceiver code runs on: one-shot
// timers, a monotonic clock, busy-wait delays and the critical region.
//
// Two implementations are provided. Sim runs on virtual time and fires
// everything on the caller's goroutine, which makes state machine tests
// deterministic. Host runs on the wall clock and queues expired timer
// callbacks until the main loop calls Poll.
package pal

import (
	"errors"
	"sync"
	"time"
)

// TimerID names one timer slot. Starting a running slot fails.
type TimerID uint16

var (
	// ErrTimerRunning is returned when starting a timer slot that is still armed
	ErrTimerRunning = errors.New("timer already running")

	// ErrInvalidTimeout is returned for zero or negative timeouts
	ErrInvalidTimeout = errors.New("invalid timeout")

	// ErrTimerNotRunning is returned when stopping an idle timer slot
	ErrTimerNotRunning = errors.New("timer not running")
)

// Platform is everything the transceiver layer needs from its host.
// Lock and Unlock bracket the critical region shared with interrupt code.
type Platform interface {
	sync.Locker

	// Now returns the time since the platform started
	Now() time.Duration

	// Delay busy-waits for d
	Delay(d time.Duration)

	// StartTimer arms slot id to call fn once after d
	StartTimer(id TimerID, d time.Duration, fn func()) error

	// StopTimer disarms slot id
	StopTimer(id TimerID) error

	// TimerRunning reports whether slot id is armed
	TimerRunning(id TimerID) bool
}
