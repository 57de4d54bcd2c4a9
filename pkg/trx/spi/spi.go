// Package spi connects to an AT86RF215 wired to a Linux SPI bus, with the
// IRQ and RSTN lines on GPIOs.
package spi

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	periphspi "periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"

	"github.com/herlein/gotal/pkg/trx"
)

// Command header: bit 15 selects write, bits 13..0 are the address
const (
	headerWrite = 0x80
	headerLen   = 2
	addrHighMax = 0x3F
)

const (
	DefaultSpeed = 8 * physic.MegaHertz
	resetPulse   = 10 * time.Microsecond
	edgeTimeout  = 100 * time.Millisecond
)

// Options selects the bus and pins. Empty pin names leave the line unused.
type Options struct {
	Port   string // spireg name, empty for the first bus
	IRQ    string // gpioreg name of the IRQ input
	Reset  string // gpioreg name of the RSTN output
	Speed  physic.Frequency
	Logger *zap.SugaredLogger
}

// Device is the SPI register backend. It implements trx.Registers and
// trx.IRQSource.
type Device struct {
	mu     sync.Mutex
	port   periphspi.PortCloser
	conn   periphspi.Conn
	irq    gpio.PinIn
	reset  gpio.PinOut
	log    *zap.SugaredLogger
	closed bool

	handler atomic.Pointer[func()]
	stop    chan struct{}
	done    chan struct{}

	wbuf, rbuf []byte
}

// Open initializes the host drivers and connects to the transceiver
func Open(opts Options) (*Device, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	if opts.Speed == 0 {
		opts.Speed = DefaultSpeed
	}

	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize host drivers: %w", err)
	}

	port, err := spireg.Open(opts.Port)
	if err != nil {
		return nil, fmt.Errorf("failed to open SPI port %q: %w", opts.Port, err)
	}
	conn, err := port.Connect(opts.Speed, periphspi.Mode0, 8)
	if err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to configure SPI port: %w", err)
	}

	d := &Device{
		port: port,
		conn: conn,
		log:  opts.Logger.Named("spi"),
		wbuf: make([]byte, headerLen+trx.FrameBufferSize),
		rbuf: make([]byte, headerLen+trx.FrameBufferSize),
	}

	if opts.Reset != "" {
		pin := gpioreg.ByName(opts.Reset)
		if pin == nil {
			port.Close()
			return nil, fmt.Errorf("reset pin %q not found", opts.Reset)
		}
		if err := pin.Out(gpio.High); err != nil {
			port.Close()
			return nil, fmt.Errorf("failed to drive reset pin: %w", err)
		}
		d.reset = pin
	}

	if opts.IRQ != "" {
		pin := gpioreg.ByName(opts.IRQ)
		if pin == nil {
			port.Close()
			return nil, fmt.Errorf("IRQ pin %q not found", opts.IRQ)
		}
		// IRQ is active high after reset (RF_CFG.IRQP = 0)
		if err := pin.In(gpio.PullDown, gpio.RisingEdge); err != nil {
			port.Close()
			return nil, fmt.Errorf("failed to configure IRQ pin: %w", err)
		}
		d.irq = pin
		d.stop = make(chan struct{})
		d.done = make(chan struct{})
		go d.watchIRQ()
	}

	d.log.Infow("connected", "port", port.String(), "speed", opts.Speed.String())
	return d, nil
}

// HardwareReset pulses RSTN. Without a reset pin it does nothing.
func (d *Device) HardwareReset() error {
	if d.reset == nil {
		return nil
	}
	if err := d.reset.Out(gpio.Low); err != nil {
		return err
	}
	time.Sleep(resetPulse)
	return d.reset.Out(gpio.High)
}

// SetIRQHandler registers the function called on every IRQ edge. It runs
// on the GPIO goroutine.
func (d *Device) SetIRQHandler(fn func()) {
	d.handler.Store(&fn)
}

func (d *Device) watchIRQ() {
	defer close(d.done)
	for {
		select {
		case <-d.stop:
			return
		default:
		}
		if !d.irq.WaitForEdge(edgeTimeout) {
			continue
		}
		// the line stays high until every status register was read
		for n := 0; n < 4 && d.irq.Read() == gpio.High; n++ {
			if fn := d.handler.Load(); fn != nil && *fn != nil {
				(*fn)()
			}
		}
	}
}

func header(addr uint16, write bool) (uint8, uint8) {
	h := uint8(addr>>8) & addrHighMax
	if write {
		h |= headerWrite
	}
	return h, uint8(addr)
}

func (d *Device) transfer(addr uint16, n int, write bool, data []byte) ([]byte, error) {
	if err := trx.CheckRange(addr, n); err != nil {
		return nil, err
	}
	if d.closed {
		return nil, trx.ErrClosed
	}

	total := headerLen + n
	if total > len(d.wbuf) {
		d.wbuf = make([]byte, total)
		d.rbuf = make([]byte, total)
	}
	w, r := d.wbuf[:total], d.rbuf[:total]
	w[0], w[1] = header(addr, write)
	if write {
		copy(w[headerLen:], data)
	} else {
		clear(w[headerLen:])
	}

	if err := d.conn.Tx(w, r); err != nil {
		return nil, fmt.Errorf("SPI transfer at 0x%04X: %w", addr, err)
	}
	return r[headerLen:], nil
}

// ReadReg reads one register
func (d *Device) ReadReg(addr uint16) (uint8, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, err := d.transfer(addr, 1, false, nil)
	if err != nil {
		return 0, err
	}
	return r[0], nil
}

// ReadRegs reads a burst starting at addr
func (d *Device) ReadRegs(addr uint16, buf []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, err := d.transfer(addr, len(buf), false, nil)
	if err != nil {
		return err
	}
	copy(buf, r)
	return nil
}

// WriteReg writes one register
func (d *Device) WriteReg(addr uint16, value uint8) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.transfer(addr, 1, true, []byte{value})
	return err
}

// WriteRegs writes a burst starting at addr
func (d *Device) WriteRegs(addr uint16, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.transfer(addr, len(data), true, data)
	return err
}

// Close stops the IRQ goroutine and releases the bus
func (d *Device) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	if d.stop != nil {
		close(d.stop)
		d.irq.Halt()
		<-d.done
	}
	return d.port.Close()
}

// Hertz converts a plain frequency for Options.Speed
func Hertz(n int64) physic.Frequency {
	return physic.Frequency(n) * physic.Hertz
}
