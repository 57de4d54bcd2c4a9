package sim

import "github.com/herlein/gotal/pkg/trx"

// Medium connects chips over the air. A frame sent by transceiver i of one
// chip reaches transceiver i of every other chip tuned to the same channel,
// and CCA reports busy while another attached transceiver sends.
type Medium struct {
	chips []*Chip

	// ED is the energy every reception is reported with
	ED int8
}

// NewMedium returns an empty medium
func NewMedium() *Medium {
	return &Medium{ED: -60}
}

// Attach adds a chip. It takes over the OnAir and ChannelBusy hooks of both
// transceivers.
func (m *Medium) Attach(c *Chip) {
	m.chips = append(m.chips, c)
	for _, r := range c.radios {
		r := r
		r.OnAir = func(mpdu []byte) { m.broadcast(r, mpdu) }
		r.ChannelBusy = func() bool { return m.busy(r) }
	}
}

func (m *Medium) peers(from *Radio, fn func(*Radio)) {
	for _, c := range m.chips {
		if c == from.chip {
			continue
		}
		to := c.radios[from.index]
		if to.channel() == from.channel() {
			fn(to)
		}
	}
}

func (m *Medium) broadcast(from *Radio, mpdu []byte) {
	frame := append([]byte(nil), mpdu...)
	m.peers(from, func(to *Radio) { to.Deliver(frame, m.ED) })
}

func (m *Medium) busy(r *Radio) bool {
	busy := false
	m.peers(r, func(p *Radio) { busy = busy || p.sending })
	return busy
}

func (r *Radio) channel() uint16 {
	c := r.chip
	return uint16(c.regs[r.rf+trx.RegRF09CNM]&0x01)<<8 | uint16(c.regs[r.rf+trx.RegRF09CNL])
}
