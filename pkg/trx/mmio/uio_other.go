//go:build !linux

package mmio

import (
	"errors"

	"go.uber.org/zap"
)

// ErrUnsupported is returned by Open outside Linux
var ErrUnsupported = errors.New("UIO register windows need Linux")

// Device is only available on Linux
type Device struct {
	*Window
}

// Open always fails outside Linux
func Open(path string, mapIndex int, log *zap.SugaredLogger) (*Device, error) {
	return nil, ErrUnsupported
}

// Close does nothing
func (d *Device) Close() error {
	return nil
}
