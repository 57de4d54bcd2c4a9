package trx

import "errors"

var (
	// ErrAddressRange is returned for accesses outside the register space
	ErrAddressRange = errors.New("register address out of range")

	// ErrTimeout is returned when a backend transfer does not complete in time
	ErrTimeout = errors.New("register access timeout")

	// ErrClosed is returned by backends after Close
	ErrClosed = errors.New("register backend closed")
)

// CheckRange validates a burst access against the address space
func CheckRange(addr uint16, n int) error {
	if int(addr)+n > AddressSpace {
		return ErrAddressRange
	}
	return nil
}
