package scanner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/herlein/gotal/pkg/tal"
)

// startAttempts bounds how often EDStart is retried while the transceiver
// is busy
const startAttempts = 20

// Measurer is the part of the transceiver layer the scanner drives.
// *tal.TAL implements it.
type Measurer interface {
	GetPIB(id tal.TrxID, attr tal.Attribute) (any, tal.Status)
	SetPIB(id tal.TrxID, attr tal.Attribute, value any) tal.Status
	EDStart(id tal.TrxID, d time.Duration) tal.Status
}

// Loop runs the main loop that services the TAL. RunUntil returns an error
// when ctx ends or cond never holds.
type Loop interface {
	RunUntil(ctx context.Context, cond func() bool) error
	Idle(ctx context.Context, d time.Duration) error
	Now() time.Duration
}

// Scanner measures each configured channel in turn. ED results must be
// routed to EDEnd from the TAL callbacks.
type Scanner struct {
	cfg       *ScanConfig
	m         Measurer
	loop      Loop
	tracker   *ChannelTracker
	smoothers map[uint16]*LevelSmoother
	log       *zap.SugaredLogger

	mu      sync.Mutex
	running bool
	cycle   int
	last    *ScanResult

	waiting bool
	got     bool
	level   uint8
}

// New creates a scanner. cfg is validated and not copied.
func New(m Measurer, loop Loop, cfg *ScanConfig) (*Scanner, error) {
	if cfg == nil {
		return nil, ErrInvalidConfig
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	s := &Scanner{
		cfg:       cfg,
		m:         m,
		loop:      loop,
		tracker:   NewChannelTracker(cfg.HoldMax, cfg.LostThreshold),
		smoothers: make(map[uint16]*LevelSmoother),
		log:       log.Named("scanner"),
	}
	s.tracker.SetCallbacks(cfg.OnChannelBusy, cfg.OnChannelQuiet)
	return s, nil
}

// EDEnd takes an energy detection result. Results for another transceiver
// or outside a measurement are ignored.
func (s *Scanner) EDEnd(id tal.TrxID, level uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id != s.cfg.Trx || !s.waiting {
		return
	}
	s.level, s.got, s.waiting = level, true, false
}

func (s *Scanner) received() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.got
}

// ScanOnce measures every channel once and restores the channel the
// transceiver was on
func (s *Scanner) ScanOnce(ctx context.Context) (*ScanResult, error) {
	if err := s.acquire(); err != nil {
		return nil, err
	}
	defer s.release()
	return s.scan(ctx)
}

// ScanContinuous scans until ctx ends or cycles passes were made, calling
// fn after each pass. cycles 0 scans until ctx ends, which then returns nil.
func (s *Scanner) ScanContinuous(ctx context.Context, cycles int, fn func(*ScanResult)) error {
	if err := s.acquire(); err != nil {
		return err
	}
	defer s.release()

	for n := 0; cycles == 0 || n < cycles; n++ {
		if n > 0 && s.cfg.ScanInterval > 0 {
			if err := s.loop.Idle(ctx, s.cfg.ScanInterval); err != nil {
				return quietCancel(ctx, err, cycles)
			}
		}
		result, err := s.scan(ctx)
		if err != nil {
			return quietCancel(ctx, err, cycles)
		}
		if fn != nil {
			fn(result)
		}
	}
	return nil
}

func quietCancel(ctx context.Context, err error, cycles int) error {
	if cycles == 0 && ctx.Err() != nil {
		return nil
	}
	return err
}

func (s *Scanner) acquire() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrScannerRunning
	}
	s.running = true
	return nil
}

func (s *Scanner) release() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

func (s *Scanner) scan(ctx context.Context) (result *ScanResult, err error) {
	id := s.cfg.Trx
	v, st := s.m.GetPIB(id, tal.AttrChannel)
	if st != tal.Success {
		return nil, fmt.Errorf("%w: read channel: %s", ErrRejected, st)
	}
	home := v.(uint16)
	defer func() {
		if st := s.setChannel(ctx, home); st != tal.Success && err == nil {
			err = fmt.Errorf("%w: restore channel %d: %s", ErrRejected, home, st)
		}
	}()

	start := s.loop.Now()
	result = &ScanResult{Trx: id, Cycle: s.cycle}
	for _, ch := range s.cfg.Channels {
		if st := s.setChannel(ctx, ch); st != tal.Success {
			return nil, fmt.Errorf("%w: channel %d: %s", ErrRejected, ch, st)
		}
		level, err := s.measure(ctx)
		if err != nil {
			return nil, fmt.Errorf("channel %d: %w", ch, err)
		}
		result.Channels = append(result.Channels, ChannelEnergy{
			Channel:  ch,
			Level:    level,
			Smoothed: s.smooth(ch, level),
			Busy:     level >= s.cfg.Threshold,
		})
	}
	result.Duration = s.loop.Now() - start

	s.tracker.Update(result)
	s.mu.Lock()
	s.cycle++
	s.last = result
	s.mu.Unlock()

	s.log.Debugw("scan cycle", "cycle", result.Cycle, "busy", result.BusyCount(), "duration", result.Duration)
	return result, nil
}

// setChannel retries while the transceiver finishes a transaction
func (s *Scanner) setChannel(ctx context.Context, ch uint16) tal.Status {
	return s.retry(ctx, func() tal.Status {
		return s.m.SetPIB(s.cfg.Trx, tal.AttrChannel, ch)
	})
}

func (s *Scanner) retry(ctx context.Context, fn func() tal.Status) tal.Status {
	st := fn()
	for n := 1; st == tal.Busy && n < startAttempts; n++ {
		if err := s.loop.Idle(ctx, s.cfg.DwellTime); err != nil {
			return st
		}
		st = fn()
	}
	return st
}

func (s *Scanner) measure(ctx context.Context) (uint8, error) {
	s.mu.Lock()
	s.waiting, s.got = true, false
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.waiting = false
		s.mu.Unlock()
	}()

	if st := s.retry(ctx, func() tal.Status { return s.m.EDStart(s.cfg.Trx, s.cfg.DwellTime) }); st != tal.Success {
		return 0, fmt.Errorf("%w: EDStart: %s", ErrRejected, st)
	}
	if err := s.loop.RunUntil(ctx, s.received); err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, errors.Join(ErrNoResult, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.level, nil
}

func (s *Scanner) smooth(ch uint16, level uint8) float64 {
	if !s.cfg.SmoothingEnabled {
		return float64(level)
	}
	sm, ok := s.smoothers[ch]
	if !ok {
		sm = NewLevelSmootherWithParams(s.cfg.SmoothThreshold, s.cfg.SmoothKFast, s.cfg.SmoothKSlow)
		s.smoothers[ch] = sm
	}
	return sm.Update(float64(level))
}

// Tracker returns the busy channel tracker
func (s *Scanner) Tracker() *ChannelTracker {
	return s.tracker
}

// BusyChannels returns the channels currently held busy
func (s *Scanner) BusyChannels() []uint16 {
	return s.tracker.BusyChannels()
}

// LastResult returns the most recent completed pass, or nil
func (s *Scanner) LastResult() *ScanResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Reset forgets tracked channels and smoothing state
func (s *Scanner) Reset() {
	s.tracker.Clear()
	for _, sm := range s.smoothers {
		sm.Reset()
	}
}
