package tal

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/herlein/gotal/pkg/buffer"
	"github.com/herlein/gotal/pkg/frame"
	"github.com/herlein/gotal/pkg/trx"
)

// Defaults
const (
	DefaultCalibrationPeriod     = 30 * time.Minute
	DefaultCalibrationRetry      = time.Second
	DefaultWakeupTimeout         = 1000 * time.Microsecond
	DefaultIncomingQueueCapacity = 0 // unbounded
	DefaultModeSwitchSettle      = 200 * time.Microsecond
)

// DeferPolicy selects how a transmission deferred by a reception during
// backoff continues once the reception is complete.
type DeferPolicy uint8

const (
	// DeferRestart starts CSMA again with NB and BE reset
	DeferRestart DeferPolicy = iota
	// DeferResume draws a new backoff with the current NB and BE
	DeferResume
)

func (p DeferPolicy) String() string {
	switch p {
	case DeferRestart:
		return "restart"
	case DeferResume:
		return "resume"
	default:
		return fmt.Sprintf("DeferPolicy(%d)", uint8(p))
	}
}

// MarshalText implements encoding.TextMarshaler
func (p DeferPolicy) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (p *DeferPolicy) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case "restart", "":
		*p = DeferRestart
	case "resume":
		*p = DeferResume
	default:
		return fmt.Errorf("%w: unknown defer policy %q", ErrInvalidConfig, b)
	}
	return nil
}

// Callbacks toward the MAC layer. All of them run on the goroutine that
// calls Task (or on the timer context of the platform) and must not block.
type Callbacks struct {
	// TxDone reports the final outcome of a TxFrame call, exactly once
	TxDone func(id TrxID, status Status, f *Frame)

	// RxFrame delivers a received frame. f is only valid during the call.
	RxFrame func(id TrxID, f *Frame)

	// EDEnd reports the result of an energy detection scan (0..255)
	EDEnd func(id TrxID, level uint8)

	// BatteryLow reports the battery monitor interrupt
	BatteryLow func(id TrxID)
}

// Config holds the TAL runtime configuration
type Config struct {
	// Buffer pool geometry, shared by both transceivers
	Buffers buffer.Config `json:"buffers" yaml:"buffers"`

	// Initial PIB per transceiver
	RF09 PIB `json:"rf09" yaml:"rf09"`
	RF24 PIB `json:"rf24" yaml:"rf24"`

	// Receiver state between transactions
	RxOnDefault bool `json:"rx_on_default" yaml:"rx_on_default"`

	// CSMA behaviour after a reception during backoff
	DeferPolicy DeferPolicy `json:"defer_policy" yaml:"defer_policy"`

	// Filter/PLL tuning
	CalibrationPeriod time.Duration `json:"calibration_period" yaml:"calibration_period"`
	CalibrationRetry  time.Duration `json:"calibration_retry" yaml:"calibration_retry"`
	LOCalibration     bool          `json:"lo_calibration" yaml:"lo_calibration"`

	WakeupTimeout time.Duration `json:"wakeup_timeout" yaml:"wakeup_timeout"`

	// Gap between the end of a mode switch PPDU and the frame in the new PHY
	ModeSwitchSettle time.Duration `json:"mode_switch_settle" yaml:"mode_switch_settle"`

	// Incoming frame queue limit per transceiver, 0 for unbounded
	IncomingQueueCapacity int `json:"incoming_queue_capacity" yaml:"incoming_queue_capacity"`

	// External front end control on the FEMx pins
	FrontEnd trx.FrontEnd `json:"front_end" yaml:"front_end"`

	// Optional, not serialized
	Logger    *zap.SugaredLogger `json:"-" yaml:"-"`
	Callbacks Callbacks          `json:"-" yaml:"-"`
}

// DefaultConfig returns a Config with default values
func DefaultConfig() *Config {
	return &Config{
		Buffers:               buffer.DefaultConfig(),
		RF09:                  DefaultPIB(RF09),
		RF24:                  DefaultPIB(RF24),
		RxOnDefault:           true,
		DeferPolicy:           DeferRestart,
		CalibrationPeriod:     DefaultCalibrationPeriod,
		CalibrationRetry:      DefaultCalibrationRetry,
		WakeupTimeout:         DefaultWakeupTimeout,
		ModeSwitchSettle:      DefaultModeSwitchSettle,
		IncomingQueueCapacity: DefaultIncomingQueueCapacity,
		FrontEnd:              trx.FrontEndNone,
	}
}

// PIBFor returns the initial PIB of transceiver id
func (c *Config) PIBFor(id TrxID) PIB {
	if id == RF09 {
		return c.RF09
	}
	return c.RF24
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if err := c.Buffers.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.Buffers.LargeBufferSize < frame.MaxPHYPacketSize {
		return fmt.Errorf("%w: large buffer size %d cannot hold a %d byte frame",
			ErrInvalidConfig, c.Buffers.LargeBufferSize, frame.MaxPHYPacketSize)
	}

	for _, id := range []TrxID{RF09, RF24} {
		pib := c.PIBFor(id)
		if err := pib.Validate(id); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, id, err)
		}
	}

	if c.DeferPolicy > DeferResume {
		return fmt.Errorf("%w: unknown defer policy %d", ErrInvalidConfig, c.DeferPolicy)
	}
	if c.CalibrationPeriod <= 0 || c.CalibrationRetry <= 0 {
		return fmt.Errorf("%w: calibration intervals must be positive", ErrInvalidConfig)
	}
	if c.WakeupTimeout <= 0 {
		return fmt.Errorf("%w: wakeup timeout must be positive", ErrInvalidConfig)
	}
	if c.ModeSwitchSettle < 0 {
		return fmt.Errorf("%w: mode switch settling time must not be negative", ErrInvalidConfig)
	}
	if c.IncomingQueueCapacity < 0 {
		return fmt.Errorf("%w: incoming queue capacity must not be negative", ErrInvalidConfig)
	}
	if c.FrontEnd > trx.FrontEndPinMode3 {
		return fmt.Errorf("%w: unknown front end mode %d", ErrInvalidConfig, c.FrontEnd)
	}
	return nil
}
