package scanner

import "errors"

// Scanner errors
var (
	// ErrScannerRunning indicates a scan is already in progress
	ErrScannerRunning = errors.New("scanner is already running")

	// ErrInvalidConfig indicates invalid scanner configuration
	ErrInvalidConfig = errors.New("invalid scanner configuration")

	// ErrChannelOutOfRange indicates a channel the transceiver does not have
	ErrChannelOutOfRange = errors.New("channel out of range")

	// ErrNoChannels indicates no channels were specified for scanning
	ErrNoChannels = errors.New("no channels specified for scanning")

	// ErrInvalidDwellTime indicates an invalid dwell time
	ErrInvalidDwellTime = errors.New("dwell time must be between 16 us and 100 ms")

	// ErrInvalidTracking indicates inconsistent hold counter settings
	ErrInvalidTracking = errors.New("lost threshold must be below hold max")

	// ErrRejected indicates the transceiver layer refused a request
	ErrRejected = errors.New("request rejected")

	// ErrNoResult indicates an ED measurement never completed
	ErrNoResult = errors.New("no ED result")

	// ErrConfigVersion indicates unsupported config file version
	ErrConfigVersion = errors.New("unsupported configuration version")
)
