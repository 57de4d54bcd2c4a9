// Package scanner surveys IEEE 802.15.4 channels with repeated energy
// detection and tracks which of them carry traffic.
package scanner

import "time"

// Default scanning parameters
const (
	// DefaultThreshold is the ED level at which a channel counts as busy
	// (about -75 dBm)
	DefaultThreshold uint8 = 80

	// DefaultDwellTime is the ED measurement time per channel, 8 symbols
	// at 250 kb/s O-QPSK
	DefaultDwellTime = 128 * time.Microsecond

	// DefaultScanInterval is the idle time between scan cycles
	DefaultScanInterval = 10 * time.Millisecond

	// MaxDwellTime bounds one ED measurement
	MaxDwellTime = 100 * time.Millisecond
)

// Channel tracking defaults
const (
	// DefaultHoldMax is the number of quiet cycles before a channel is free
	DefaultHoldMax = 5

	// DefaultLostThreshold is the hold counter value that reports a channel
	// as gone quiet
	DefaultLostThreshold = 3
)

// Level smoothing defaults
const (
	// DefaultSmoothThreshold is the level change that switches to fast
	// adaptation
	DefaultSmoothThreshold float64 = 30

	DefaultKFast float64 = 0.8
	DefaultKSlow float64 = 0.25
)

// ConfigVersion is the scan configuration file version
const ConfigVersion = "1.0"
