package buffer

import "fmt"

// Default pool geometry, sized for 802.15.4 frames (127 byte PSDU plus header room)
const (
	DefaultLargeBufferCount = 8
	DefaultLargeBufferSize  = 160
	DefaultSmallBufferCount = 4
	DefaultSmallBufferSize  = 32
)

// Config holds the pool geometry
type Config struct {
	LargeBufferCount int `json:"large_buffer_count" yaml:"large_buffer_count"`
	LargeBufferSize  int `json:"large_buffer_size" yaml:"large_buffer_size"`
	SmallBufferCount int `json:"small_buffer_count" yaml:"small_buffer_count"`
	SmallBufferSize  int `json:"small_buffer_size" yaml:"small_buffer_size"`
}

// DefaultConfig returns the default pool geometry
func DefaultConfig() Config {
	return Config{
		LargeBufferCount: DefaultLargeBufferCount,
		LargeBufferSize:  DefaultLargeBufferSize,
		SmallBufferCount: DefaultSmallBufferCount,
		SmallBufferSize:  DefaultSmallBufferSize,
	}
}

// Validate checks the geometry. Small buffers are optional.
func (c *Config) Validate() error {
	if c.LargeBufferCount <= 0 {
		return fmt.Errorf("%w: large buffer count must be positive", ErrInvalidConfig)
	}
	if c.LargeBufferSize <= 0 {
		return fmt.Errorf("%w: large buffer size must be positive", ErrInvalidConfig)
	}
	if c.SmallBufferCount < 0 {
		return fmt.Errorf("%w: small buffer count must not be negative", ErrInvalidConfig)
	}
	if c.SmallBufferCount > 0 {
		if c.SmallBufferSize <= 0 {
			return fmt.Errorf("%w: small buffer size must be positive", ErrInvalidConfig)
		}
		if c.SmallBufferSize >= c.LargeBufferSize {
			return fmt.Errorf("%w: small buffer size (%d) must be below large buffer size (%d)",
				ErrInvalidConfig, c.SmallBufferSize, c.LargeBufferSize)
		}
	}
	return nil
}
