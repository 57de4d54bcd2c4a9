package buffer

import "errors"

var (
	// ErrQueueFull is returned by Append when a bounded queue holds capacity buffers
	ErrQueueFull = errors.New("queue full")

	// ErrInvalidConfig is returned when the pool configuration is unusable
	ErrInvalidConfig = errors.New("invalid buffer configuration")
)
