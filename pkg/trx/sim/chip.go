// Package sim is a behavioural model of the AT86RF215 register interface.
//
// It models what the transceiver layer relies on: the command/state machine
// of both transceivers, interrupt status with masks and clear-on-read, frame
// buffers, CCA-gated transmit, automatic TX to RX turnaround, hardware ACK
// replies, address filtering, AGC freeze during reception, sleep with the
// deep-sleep register loss when both transceivers sleep, and fault injection
// (transmit underrun, transceiver error, failed wakeup).
//
// All timing runs on a Scheduler, normally pal.Sim, so nothing here is
// concurrent.
package sim

import (
	"math/rand"
	"time"

	"github.com/herlein/gotal/pkg/frame"
	"github.com/herlein/gotal/pkg/trx"
)

// O-QPSK 250 kbit/s timing
const (
	SymbolTime    = 16 * time.Microsecond
	OctetTime     = 2 * SymbolTime
	CCADuration   = 8 * SymbolTime
	Turnaround    = frame.TurnaroundTime * SymbolTime
	WakeupLatency = 200 * time.Microsecond
	ResetLatency  = 10 * time.Microsecond
)

// Energy levels reported for a busy and an idle channel
const (
	BusyEnergy = -50
	IdleEnergy = -100
)

// Scheduler runs deferred chip activity
type Scheduler interface {
	Now() time.Duration
	After(d time.Duration, fn func()) (cancel func())
}

// Airtime returns the on-air duration of a PSDU of n octets
func Airtime(n int) time.Duration {
	return time.Duration(n+frame.PHYHeaderOctets) * OctetTime
}

// Chip is the simulated transceiver chip. It implements trx.Registers and
// trx.IRQSource.
type Chip struct {
	sched      Scheduler
	regs       [trx.AddressSpace]byte
	radios     [2]*Radio
	irq        func()
	irqPending bool
	deepSleep  bool
	rng        *rand.Rand
	trace      []Event

	// PartNumber and Version are reported through RF_PN and RF_VN
	PartNumber uint8
	Version    uint8
}

// New creates a chip in the post-reset state
func New(sched Scheduler) *Chip {
	c := &Chip{
		sched:      sched,
		rng:        rand.New(rand.NewSource(1)),
		PartNumber: trx.PartNumAT86RF215,
		Version:    3,
	}
	for i := range c.radios {
		c.radios[i] = newRadio(c, i)
	}
	c.resetAll()
	return c
}

// Radio returns transceiver i (0 sub-GHz, 1 2.4 GHz)
func (c *Chip) Radio(i int) *Radio {
	return c.radios[i]
}

// DeepSleep reports whether both transceivers sleep and registers are lost
func (c *Chip) DeepSleep() bool {
	return c.deepSleep
}

// Trace returns everything that happened on air and in the chip so far
func (c *Chip) Trace() []Event {
	return c.trace
}

// SetIRQHandler implements trx.IRQSource
func (c *Chip) SetIRQHandler(fn func()) {
	c.irq = fn
}

// ReadReg implements trx.Registers
func (c *Chip) ReadReg(addr uint16) (uint8, error) {
	if err := trx.CheckRange(addr, 1); err != nil {
		return 0, err
	}
	return c.readByte(addr), nil
}

// ReadRegs implements trx.Registers
func (c *Chip) ReadRegs(addr uint16, buf []byte) error {
	if err := trx.CheckRange(addr, len(buf)); err != nil {
		return err
	}
	for i := range buf {
		buf[i] = c.readByte(addr + uint16(i))
	}
	return nil
}

// WriteReg implements trx.Registers
func (c *Chip) WriteReg(addr uint16, value uint8) error {
	if err := trx.CheckRange(addr, 1); err != nil {
		return err
	}
	c.writeByte(addr, value)
	return nil
}

// WriteRegs implements trx.Registers
func (c *Chip) WriteRegs(addr uint16, data []byte) error {
	if err := trx.CheckRange(addr, len(data)); err != nil {
		return err
	}
	for i, v := range data {
		c.writeByte(addr+uint16(i), v)
	}
	return nil
}

func (c *Chip) readByte(addr uint16) uint8 {
	v := c.regs[addr]
	switch {
	case addr <= trx.RegBBC1IRQS:
		c.regs[addr] = 0
	case addr == trx.RegRF09RNDV || addr == trx.RegRF09RNDV+trx.RFBlockOffset:
		v = uint8(c.rng.Intn(256))
	}
	return v
}

func (c *Chip) writeByte(addr uint16, v uint8) {
	switch {
	case addr == trx.RegRFRST:
		if v == trx.RSTCmdReset {
			c.chipReset()
		}
		return
	case addr == trx.RegRFPN || addr == trx.RegRFVN || addr <= trx.RegBBC1IRQS:
		return
	}

	if r, off, ok := c.rfBlock(addr); ok {
		switch off {
		case trx.RegRF09STATE, trx.RegRF09EDV, trx.RegRF09RNDV:
			return
		case trx.RegRF09CMD:
			c.regs[addr] = v
			r.command(trx.Command(v & 0x07))
			return
		case trx.RegRF09EDC:
			c.regs[addr] = v
			if trx.EDMode(v&trx.EDCEDMMask) == trx.EDSingle {
				r.startED()
			}
			return
		case trx.RegRF09AGCC:
			// FRZS is status
			c.regs[addr] = v&^trx.AGCCFRZS | c.regs[addr]&trx.AGCCFRZS
			return
		}
	}

	if r, off, ok := c.bbBlock(addr); ok {
		switch off {
		case trx.RegBBC0PC:
			// FCSOK is status
			c.regs[addr] = v&^trx.PCFCSOK | c.regs[addr]&trx.PCFCSOK
			if v&trx.PCBBEN == 0 {
				r.abortRx()
			}
			return
		case trx.RegBBC0AMCS:
			// CCAED is status
			c.regs[addr] = v&^trx.AMCSCCAED | c.regs[addr]&trx.AMCSCCAED
			return
		case trx.RegBBC0PS, trx.RegBBC0AFS:
			return
		}
	}

	c.regs[addr] = v
}

func (c *Chip) rfBlock(addr uint16) (*Radio, uint16, bool) {
	for _, r := range c.radios {
		if addr >= r.rf+trx.RegRF09IRQM && addr < r.rf+trx.RegRF09IRQM+trx.RFBlockOffset {
			return r, addr - r.rf, true
		}
	}
	return nil, 0, false
}

func (c *Chip) bbBlock(addr uint16) (*Radio, uint16, bool) {
	for _, r := range c.radios {
		if addr >= r.bb+trx.RegBBC0IRQM && addr < r.bb+trx.RegBBC0IRQM+trx.BBBlockOffset {
			return r, addr - r.bb, true
		}
	}
	return nil, 0, false
}

// raise latches interrupt status and asserts the IRQ line for masked bits
func (c *Chip) raise(r *Radio, rf, bb uint8) {
	c.regs[trx.RegRF09IRQS+uint16(r.index)] |= rf
	c.regs[trx.RegBBC0IRQS+uint16(r.index)] |= bb

	line := rf&c.regs[r.rf+trx.RegRF09IRQM] | bb&c.regs[r.bb+trx.RegBBC0IRQM]
	if line == 0 || c.irqPending {
		return
	}
	c.irqPending = true
	c.sched.After(0, func() {
		c.irqPending = false
		if c.irq != nil {
			c.irq()
		}
	})
}

func (c *Chip) record(r *Radio, kind EventKind, mpdu []byte) {
	e := Event{At: c.sched.Now(), Radio: r.index, Kind: kind}
	if mpdu != nil {
		e.MPDU = append([]byte(nil), mpdu...)
	}
	c.trace = append(c.trace, e)
}

// resetAll loads reset values into the whole register file
func (c *Chip) resetAll() {
	c.regs = [trx.AddressSpace]byte{}
	c.regs[trx.RegRFPN] = c.PartNumber
	c.regs[trx.RegRFVN] = c.Version
	c.regs[trx.RegRFCFG] = 0x08
	c.regs[trx.RegRFCLKO] = 0x08
	c.regs[trx.RegRFXOC] = 0x10
	for _, r := range c.radios {
		r.resetRegisters()
	}
}

// chipReset models RF_RST: everything back to TRXOFF and wakeup raised
func (c *Chip) chipReset() {
	c.deepSleep = false
	for _, r := range c.radios {
		r.abort()
		r.state = trx.StateTrxOff
	}
	c.resetAll()
	for _, r := range c.radios {
		r.syncState()
		r := r
		r.after(ResetLatency, func() { c.raise(r, trx.IRQWakeup, 0) })
	}
}
