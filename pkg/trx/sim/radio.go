package sim

import (
	"encoding/binary"
	"time"

	"github.com/herlein/gotal/pkg/frame"
	"github.com/herlein/gotal/pkg/trx"
)

// EventKind classifies trace entries
type EventKind uint8

const (
	EventCCAIdle EventKind = iota
	EventCCABusy
	EventTx
	EventAckTx
	EventRxStart
	EventRxEnd
	EventRxDropped
	EventSleep
	EventWakeup
	EventUnderrun
	EventTrxErr
)

var eventNames = map[EventKind]string{
	EventCCAIdle:   "cca-idle",
	EventCCABusy:   "cca-busy",
	EventTx:        "tx",
	EventAckTx:     "ack-tx",
	EventRxStart:   "rx-start",
	EventRxEnd:     "rx-end",
	EventRxDropped: "rx-dropped",
	EventSleep:     "sleep",
	EventWakeup:    "wakeup",
	EventUnderrun:  "underrun",
	EventTrxErr:    "trx-err",
}

// String returns the event name
func (k EventKind) String() string {
	if s, ok := eventNames[k]; ok {
		return s
	}
	return "unknown"
}

// Event is one entry in the chip trace
type Event struct {
	At    time.Duration
	Radio int
	Kind  EventKind
	MPDU  []byte
}

// Reception describes a frame arriving over the air
type Reception struct {
	MPDU  []byte // without FCS
	ED    int8   // energy in dBm
	FCS32 bool   // the frame carries a 4-octet FCS
}

// Radio is one simulated transceiver. The exported fields are test hooks and
// may be changed between steps.
type Radio struct {
	chip  *Chip
	index int
	rf    uint16
	bb    uint16
	state trx.State

	gen       uint64
	rxGen     uint64
	receiving bool
	sending   bool

	// ChannelBusy decides every CCA. Nil means always idle.
	ChannelBusy func() bool

	// AckResponder is called for every transmitted frame that requests an
	// ACK. A non-nil reply is received after the turnaround time.
	AckResponder func(mpdu []byte) []byte

	// LOSample supplies TXCI/TXCQ each time the transceiver enters TXPREP
	LOSample func() (i, q uint8)

	// FailWakeup makes the next wake command go unanswered
	FailWakeup bool

	// OnAir sees every frame this radio starts to send, ACKs included
	OnAir func(mpdu []byte)

	underrun bool
}

func newRadio(c *Chip, index int) *Radio {
	return &Radio{
		chip:  c,
		index: index,
		rf:    uint16(index) * trx.RFBlockOffset,
		bb:    uint16(index) * trx.BBBlockOffset,
		state: trx.StateTrxOff,
	}
}

// State returns the transceiver state
func (r *Radio) State() trx.State {
	return r.state
}

// Receiving reports whether a frame is currently on air toward this radio
func (r *Radio) Receiving() bool {
	return r.receiving
}

// Transmitting reports whether a frame or an ACK is on air
func (r *Radio) Transmitting() bool {
	return r.sending
}

// InjectUnderrun makes the next transmission fail with a transmit underrun
func (r *Radio) InjectUnderrun() {
	r.underrun = true
}

// InjectTransceiverError raises TRXERR
func (r *Radio) InjectTransceiverError() {
	r.chip.record(r, EventTrxErr, nil)
	r.chip.raise(r, trx.IRQTrxErr, 0)
}

// InjectBatteryLow raises BATLOW
func (r *Radio) InjectBatteryLow() {
	r.chip.raise(r, trx.IRQBatLow, 0)
}

// Transmissions returns the frames this radio put on air, ACKs excluded
func (r *Radio) Transmissions() [][]byte {
	var out [][]byte
	for _, e := range r.chip.trace {
		if e.Radio == r.index && e.Kind == EventTx {
			out = append(out, e.MPDU)
		}
	}
	return out
}

// Count returns how many trace events of kind this radio produced
func (r *Radio) Count(kind EventKind) int {
	n := 0
	for _, e := range r.chip.trace {
		if e.Radio == r.index && e.Kind == kind {
			n++
		}
	}
	return n
}

// CCAs returns how many clear channel assessments were made
func (r *Radio) CCAs() int {
	return r.Count(EventCCAIdle) + r.Count(EventCCABusy)
}

// Deliver puts a frame with a 2-octet FCS on air toward this radio. It
// returns false when the radio cannot receive it (not listening, baseband
// off, busy, or rejected by the frame filter).
func (r *Radio) Deliver(mpdu []byte, ed int8) bool {
	return r.DeliverReception(Reception{MPDU: mpdu, ED: ed})
}

// DeliverReception is Deliver with full control over the reception
func (r *Radio) DeliverReception(rx Reception) bool {
	c := r.chip
	if c.deepSleep || r.state != trx.StateRx || r.receiving || r.sending ||
		c.regs[r.bb+trx.RegBBC0PC]&trx.PCBBEN == 0 {
		c.record(r, EventRxDropped, rx.MPDU)
		return false
	}

	accept, unicast := r.filter(rx.MPDU)
	if !accept {
		c.record(r, EventRxDropped, rx.MPDU)
		return false
	}

	fcsLen := frame.FCSLen16
	if rx.FCS32 {
		fcsLen = frame.FCSLen32
	}
	psdu := frame.AppendFCS(rx.MPDU, fcsLen)

	r.receiving = true
	c.regs[r.rf+trx.RegRF09AGCC] |= trx.AGCCFRZS
	c.record(r, EventRxStart, rx.MPDU)
	c.raise(r, 0, trx.IRQRxFS)

	gen := r.rxGen
	r.after(Airtime(len(psdu)), func() {
		if gen != r.rxGen {
			return
		}
		r.receiving = false
		c.regs[r.rf+trx.RegRF09AGCC] &^= trx.AGCCFRZS

		fb := trx.RegBBC0FBRXS + uint16(r.index)*trx.FrameBufferOffset
		copy(c.regs[fb:], psdu)
		binary.LittleEndian.PutUint16(c.regs[r.bb+trx.RegBBC0RXFLL:], uint16(len(psdu)))
		c.regs[r.rf+trx.RegRF09EDV] = uint8(rx.ED)
		c.regs[r.bb+trx.RegBBC0FSKPHRRX] = 0
		if fcsLen == frame.FCSLen16 {
			c.regs[r.bb+trx.RegBBC0FSKPHRRX] = trx.FSKPHRRXFCST
		}
		c.regs[r.bb+trx.RegBBC0AFS] = 0
		if unicast {
			c.regs[r.bb+trx.RegBBC0AFS] = trx.AFSAM0
		}
		c.regs[r.bb+trx.RegBBC0PC] |= trx.PCFCSOK

		c.record(r, EventRxEnd, rx.MPDU)
		c.raise(r, 0, trx.IRQRxFE)

		fcf := frame.Control(rx.MPDU)
		if unicast && fcf.AckRequest() && !frame.IsAck(rx.MPDU) &&
			c.regs[r.bb+trx.RegBBC0AMCS]&trx.AMCSAACK != 0 {
			r.sendAck(frame.Seq(rx.MPDU))
		}
	})
	return true
}

// filter applies the frame filter 0 rules
func (r *Radio) filter(mpdu []byte) (accept, unicast bool) {
	c := r.chip
	afc0 := c.regs[r.bb+trx.RegBBC0AFC0]
	if afc0&trx.AFC0PM != 0 {
		return true, false
	}

	fcf := frame.Control(mpdu)
	if c.regs[r.bb+trx.RegBBC0AFFTM]&(1<<fcf.Type()) == 0 {
		return false, false
	}
	if afc0&trx.AFC0AFEN0 == 0 || frame.IsAck(mpdu) {
		return true, false
	}

	dst, err := frame.Destination(mpdu)
	if err != nil {
		return false, false
	}
	pan := binary.LittleEndian.Uint16(c.regs[r.bb+trx.RegBBC0MACPID0F0:])
	panOK := dst.PANID == frame.BroadcastPANID || dst.PANID == pan

	switch dst.Mode {
	case frame.AddrShort:
		short := binary.LittleEndian.Uint16(c.regs[r.bb+trx.RegBBC0MACSHA0F0:])
		if dst.Broadcast() {
			return panOK, false
		}
		ok := panOK && dst.Short == short
		return ok, ok
	case frame.AddrLong:
		ea := binary.LittleEndian.Uint64(c.regs[r.bb+trx.RegBBC0MACEA0:])
		ok := panOK && dst.Long == ea
		return ok, ok
	default:
		coord := c.regs[r.bb+trx.RegBBC0AFC1]&trx.AFC1PANC0 != 0
		return coord, false
	}
}

func (r *Radio) sendAck(seq uint8) {
	c := r.chip
	gen := r.gen
	r.after(Turnaround, func() {
		if gen != r.gen || r.state != trx.StateRx {
			return
		}
		ack := frame.NewAck(seq, false)
		r.state = trx.StateTx
		r.sending = true
		r.syncState()
		c.record(r, EventAckTx, ack)
		if r.OnAir != nil {
			r.OnAir(ack)
		}
		r.after(Airtime(len(ack)+frame.FCSLen16), func() {
			if gen != r.gen {
				return
			}
			r.sending = false
			r.state = trx.StateRx
			r.syncState()
			c.raise(r, 0, trx.IRQTxFE)
		})
	})
}

func (r *Radio) command(cmd trx.Command) {
	c := r.chip
	switch cmd {
	case trx.CmdSleep:
		r.abort()
		r.state = trx.StateSleep
		r.syncState()
		c.record(r, EventSleep, nil)
		if c.radios[0].state == trx.StateSleep && c.radios[1].state == trx.StateSleep {
			c.deepSleep = true
			c.resetAll()
			for _, rr := range c.radios {
				rr.syncState()
			}
		}

	case trx.CmdTrxOff:
		if r.state == trx.StateSleep {
			r.wake()
			return
		}
		r.abort()
		r.state = trx.StateTrxOff
		r.syncState()

	case trx.CmdTxPrep:
		if r.state == trx.StateSleep {
			return
		}
		r.abort()
		r.state = trx.StateTxPrep
		if r.LOSample != nil {
			i, q := r.LOSample()
			c.regs[r.rf+trx.RegRF09TXCI] = i & trx.TXCMask
			c.regs[r.rf+trx.RegRF09TXCQ] = q & trx.TXCMask
		}
		r.syncState()
		c.raise(r, trx.IRQTrxRdy, 0)

	case trx.CmdTx:
		if r.state == trx.StateTxPrep || r.state == trx.StateRx {
			r.transmit()
		}

	case trx.CmdRx:
		if r.state == trx.StateSleep || r.state == trx.StateRx {
			return
		}
		r.abort()
		r.state = trx.StateRx
		r.syncState()

	case trx.CmdReset:
		r.abort()
		r.resetRegisters()
		r.state = trx.StateTrxOff
		r.syncState()
		r.after(ResetLatency, func() { c.raise(r, trx.IRQWakeup, 0) })
	}
}

// wake leaves sleep. From deep sleep the whole chip powers up and both
// transceivers report wakeup.
func (r *Radio) wake() {
	c := r.chip
	if r.FailWakeup {
		r.FailWakeup = false
		return
	}

	woken := []*Radio{r}
	if c.deepSleep {
		c.deepSleep = false
		woken = c.radios[:]
	}
	for _, w := range woken {
		w := w
		w.state = trx.StateTrxOff
		w.syncState()
		c.record(w, EventWakeup, nil)
		w.after(WakeupLatency, func() { c.raise(w, trx.IRQWakeup, 0) })
	}
}

// transmit sends the frame in the transmit buffer
func (r *Radio) transmit() {
	c := r.chip
	viaCCA := r.state == trx.StateRx

	if r.underrun {
		r.underrun = false
		c.regs[r.bb+trx.RegBBC0PS] |= trx.PSTXUR
		c.record(r, EventUnderrun, nil)
		r.state = trx.StateTxPrep
		r.syncState()
		if viaCCA {
			c.raise(r, 0, trx.IRQTxFE)
		}
		return
	}
	c.regs[r.bb+trx.RegBBC0PS] &^= trx.PSTXUR

	psduLen := int(binary.LittleEndian.Uint16(c.regs[r.bb+trx.RegBBC0TXFLL:]) & 0x07FF)
	fcsLen := frame.FCSLen32
	if c.regs[r.bb+trx.RegBBC0PC]&trx.PCFCST != 0 {
		fcsLen = frame.FCSLen16
	}
	n := psduLen - fcsLen
	if n < 0 {
		n = 0
	}
	fb := trx.RegBBC0FBTXS + uint16(r.index)*trx.FrameBufferOffset
	mpdu := append([]byte(nil), c.regs[fb:fb+uint16(n)]...)

	r.abortRx()
	c.regs[r.bb+trx.RegBBC0PC] |= trx.PCBBEN
	r.state = trx.StateTx
	r.sending = true
	r.syncState()
	c.record(r, EventTx, mpdu)
	if r.OnAir != nil {
		r.OnAir(mpdu)
	}

	gen := r.gen
	r.after(Airtime(psduLen), func() {
		if gen != r.gen {
			return
		}
		r.sending = false
		if c.regs[r.bb+trx.RegBBC0AMCS]&trx.AMCSTX2RX != 0 {
			r.state = trx.StateRx
		} else {
			r.state = trx.StateTxPrep
		}
		r.syncState()
		c.raise(r, 0, trx.IRQTxFE)

		if !frame.Control(mpdu).AckRequest() || r.AckResponder == nil {
			return
		}
		reply := r.AckResponder(mpdu)
		if reply == nil {
			return
		}
		r.after(Turnaround, func() { r.Deliver(reply, -40) })
	})
}

// startED runs a single energy measurement and, with CCATX set while
// listening, resolves the CCA-gated transmit.
func (r *Radio) startED() {
	c := r.chip
	gen := r.gen
	r.after(CCADuration, func() {
		if gen != r.gen {
			return
		}
		energy := int8(IdleEnergy)
		if r.ChannelBusy != nil && r.ChannelBusy() {
			energy = BusyEnergy
		}
		c.regs[r.rf+trx.RegRF09EDV] = uint8(energy)
		c.raise(r, trx.IRQEDC, 0)

		amcs := c.regs[r.bb+trx.RegBBC0AMCS]
		if amcs&trx.AMCSCCATX == 0 || r.state != trx.StateRx {
			return
		}
		if energy > int8(c.regs[r.bb+trx.RegBBC0AMEDT]) {
			c.regs[r.bb+trx.RegBBC0AMCS] |= trx.AMCSCCAED
			c.record(r, EventCCABusy, nil)
			c.raise(r, 0, trx.IRQTxFE)
			return
		}
		c.regs[r.bb+trx.RegBBC0AMCS] &^= trx.AMCSCCAED
		c.record(r, EventCCAIdle, nil)
		r.transmit()
	})
}

// after schedules fn on the chip scheduler
func (r *Radio) after(d time.Duration, fn func()) {
	r.chip.sched.After(d, fn)
}

// abort cancels every activity in flight
func (r *Radio) abort() {
	r.gen++
	r.sending = false
	r.abortRx()
}

func (r *Radio) abortRx() {
	r.rxGen++
	r.receiving = false
	r.chip.regs[r.rf+trx.RegRF09AGCC] &^= trx.AGCCFRZS
}

func (r *Radio) syncState() {
	r.chip.regs[r.rf+trx.RegRF09STATE] = uint8(r.state)
}

func (r *Radio) resetRegisters() {
	c := r.chip
	for a := r.rf + trx.RegRF09IRQM; a < r.rf+trx.RegRF09IRQM+trx.RFBlockOffset; a++ {
		c.regs[a] = 0
	}
	for a := r.bb + trx.RegBBC0IRQM; a < r.bb+trx.RegBBC0IRQM+trx.BBBlockOffset; a++ {
		c.regs[a] = 0
	}
	c.regs[r.rf+trx.RegRF09IRQM] = trx.IRQWakeup
	c.regs[r.rf+trx.RegRF09AGCC] = trx.AGCCEN
	c.regs[r.rf+trx.RegRF09EDD] = 0x7A
	c.regs[r.rf+trx.RegRF09PAC] = trx.DefaultPACurrent | 0x1F
	c.regs[r.bb+trx.RegBBC0PC] = trx.PTOQPSK | trx.PCBBEN | trx.PCFCST
	c.regs[r.bb+trx.RegBBC0AFFTM] = 0x3F
	c.regs[r.bb+trx.RegBBC0AMEDT] = 0xB5
	pan := r.bb + trx.RegBBC0MACPID0F0
	c.regs[pan], c.regs[pan+1] = 0xFF, 0xFF
	sha := r.bb + trx.RegBBC0MACSHA0F0
	c.regs[sha], c.regs[sha+1] = 0xFF, 0xFF
	r.syncState()
}
