package tal

import "errors"

var (
	// ErrUnsupportedPart is returned by New when the chip identifies as
	// something other than an AT86RF215 family part.
	ErrUnsupportedPart = errors.New("unsupported transceiver part")

	// ErrResetTimeout is returned when the chip does not signal wakeup after reset
	ErrResetTimeout = errors.New("transceiver reset timeout")

	// ErrInvalidConfig wraps configuration validation failures
	ErrInvalidConfig = errors.New("invalid TAL configuration")

	// Mode switch PHR decoding
	ErrNotModeSwitch   = errors.New("not a mode switch PHR")
	ErrModeSwitchCheck = errors.New("mode switch PHR check failed")
	ErrModeUnsupported = errors.New("PHY mode not supported")
)
