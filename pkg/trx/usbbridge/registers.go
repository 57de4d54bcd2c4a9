package usbbridge

import (
	"fmt"
	"time"

	"github.com/herlein/gotal/pkg/trx"
)

// ReadReg reads one register
func (d *Device) ReadReg(addr uint16) (uint8, error) {
	var b [1]byte
	if err := d.ReadRegs(addr, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadRegs reads a burst, split into MaxBurst transfers
func (d *Device) ReadRegs(addr uint16, buf []byte) error {
	if err := trx.CheckRange(addr, len(buf)); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	for off := 0; off < len(buf); off += MaxBurst {
		n := min(MaxBurst, len(buf)-off)
		a := addr + uint16(off)
		data, err := d.send(AppSPI, SPICmdRead, readPayload(a, n), DefaultTimeout)
		if err != nil {
			return fmt.Errorf("read at 0x%04X: %w", a, err)
		}
		if err := checkLen(data, n); err != nil {
			return fmt.Errorf("read at 0x%04X: %w", a, err)
		}
		copy(buf[off:], data)
	}
	return nil
}

// WriteReg writes one register
func (d *Device) WriteReg(addr uint16, value uint8) error {
	return d.WriteRegs(addr, []byte{value})
}

// WriteRegs writes a burst, split into MaxBurst transfers
func (d *Device) WriteRegs(addr uint16, data []byte) error {
	if err := trx.CheckRange(addr, len(data)); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	for off := 0; off < len(data); off += MaxBurst {
		n := min(MaxBurst, len(data)-off)
		a := addr + uint16(off)
		if _, err := d.send(AppSPI, SPICmdWrite, writePayload(a, data[off:off+n]), DefaultTimeout); err != nil {
			return fmt.Errorf("write at 0x%04X: %w", a, err)
		}
	}
	return nil
}

// HardwareReset asks the bridge to pulse RSTN
func (d *Device) HardwareReset() error {
	if _, err := d.Send(AppSPI, SPICmdHWReset, nil, DefaultTimeout); err != nil {
		return fmt.Errorf("hardware reset: %w", err)
	}
	return nil
}

// IRQLevel samples the IRQ line
func (d *Device) IRQLevel() (bool, error) {
	resp, err := d.Send(AppSPI, SPICmdIRQLevel, nil, DefaultTimeout)
	if err != nil {
		return false, err
	}
	if err := checkLen(resp, 1); err != nil {
		return false, err
	}
	return resp[0] != 0, nil
}

// SetIRQHandler registers fn and starts polling the IRQ line. A nil fn stops
// polling. The bridge has no interrupt endpoint.
func (d *Device) SetIRQHandler(fn func()) {
	d.stopPolling()
	if fn == nil {
		return
	}

	d.irqMu.Lock()
	d.handler = fn
	d.stop = make(chan struct{})
	d.done = make(chan struct{})
	go d.pollIRQ(fn, d.stop, d.done)
	d.irqMu.Unlock()
}

func (d *Device) stopPolling() {
	d.irqMu.Lock()
	stop, done := d.stop, d.done
	d.stop, d.done, d.handler = nil, nil, nil
	d.irqMu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
}

func (d *Device) pollIRQ(fn func(), stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(IRQPollPeriod)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		high, err := d.IRQLevel()
		if err != nil {
			failures++
			if failures == 1 || failures%1000 == 0 {
				d.log.Warnw("IRQ poll failed", "failures", failures, "error", err)
			}
			continue
		}
		failures = 0
		if high {
			fn()
		}
	}
}
