// Package mmio accesses a transceiver whose register space is mapped into
// memory, as exposed by an FPGA SPI engine through Linux UIO. Each register
// occupies one byte of the window.
package mmio

import (
	"sync"

	"github.com/herlein/gotal/pkg/trx"
)

// Window implements trx.Registers over a byte slice covering the whole
// address space
type Window struct {
	mu     sync.Mutex
	mem    []byte
	closed bool
}

// NewWindow wraps mem, which must span trx.AddressSpace bytes
func NewWindow(mem []byte) (*Window, error) {
	if len(mem) < trx.AddressSpace {
		return nil, trx.ErrAddressRange
	}
	return &Window{mem: mem[:trx.AddressSpace]}, nil
}

func (w *Window) access(addr uint16, n int) error {
	if err := trx.CheckRange(addr, n); err != nil {
		return err
	}
	if w.closed {
		return trx.ErrClosed
	}
	return nil
}

func (w *Window) ReadReg(addr uint16) (uint8, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.access(addr, 1); err != nil {
		return 0, err
	}
	return w.mem[addr], nil
}

func (w *Window) ReadRegs(addr uint16, buf []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.access(addr, len(buf)); err != nil {
		return err
	}
	copy(buf, w.mem[addr:])
	return nil
}

func (w *Window) WriteReg(addr uint16, value uint8) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.access(addr, 1); err != nil {
		return err
	}
	w.mem[addr] = value
	return nil
}

func (w *Window) WriteRegs(addr uint16, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.access(addr, len(data)); err != nil {
		return err
	}
	copy(w.mem[addr:], data)
	return nil
}

// detach marks the window closed and returns the memory
func (w *Window) detach() []byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	return w.mem
}
