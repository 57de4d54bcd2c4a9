package sim

import (
	"testing"

	"github.com/herlein/gotal/pkg/frame"
	"github.com/herlein/gotal/pkg/pal"
	"github.com/herlein/gotal/pkg/trx"
)

func newTestChip() (*pal.Sim, *Chip) {
	s := pal.NewSim()
	return s, New(s)
}

func run(s *pal.Sim) {
	for s.Step() {
	}
}

func TestIRQStatusClearsOnRead(t *testing.T) {
	s, c := newTestChip()
	irqs := 0
	c.SetIRQHandler(func() { irqs++ })

	trx.ResetChip(c)
	run(s)

	if irqs == 0 {
		t.Fatal("reset did not assert the IRQ line")
	}
	st, err := trx.ReadIRQStatus(c)
	if err != nil {
		t.Fatalf("ReadIRQStatus: %v", err)
	}
	if st[0]&trx.IRQWakeup == 0 || st[1]&trx.IRQWakeup == 0 {
		t.Errorf("wakeup not latched: % X", st)
	}
	st, _ = trx.ReadIRQStatus(c)
	if st != [4]uint8{} {
		t.Errorf("status not cleared on read: % X", st)
	}
}

func TestDeepSleepLosesRegisters(t *testing.T) {
	s, c := newTestChip()
	r0 := trx.NewRadio(c, 0)
	r1 := trx.NewRadio(c, 1)

	r0.SetPANID(0x1234)
	r1.SetPANID(0x5678)

	r0.SetCommand(trx.CmdSleep)
	if c.DeepSleep() {
		t.Fatal("one sleeping transceiver must not enter deep sleep")
	}
	r1.SetCommand(trx.CmdSleep)
	if !c.DeepSleep() {
		t.Fatal("both transceivers asleep but no deep sleep")
	}

	r0.SetCommand(trx.CmdTrxOff)
	run(s)

	if r0.State() != trx.StateTrxOff || r1.State() != trx.StateTrxOff {
		t.Errorf("states after deep sleep wake: %v %v", r0.State(), r1.State())
	}
	v, _ := c.ReadReg(trx.RegBBC0MACPID0F0)
	if v != 0xFF {
		t.Errorf("PAN ID survived deep sleep: %#x", v)
	}
}

func TestCCAGatedTransmit(t *testing.T) {
	tests := []struct {
		name     string
		busy     bool
		wantTx   int
		wantCCAED bool
	}{
		{"idle channel", false, 1, false},
		{"busy channel", true, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, c := newTestChip()
			r := trx.NewRadio(c, 1)
			c.Radio(1).ChannelBusy = func() bool { return tt.busy }

			r.SetIRQMasks(0, trx.IRQTxFE)
			r.SetCCAThreshold(-80)
			r.WriteTxFrame([]byte{0x41, 0x88, 0x01, 0xCD, 0xAB}, frame.FCSLen16)
			r.SetAutoMode(trx.AutoMode{CCATX: true})
			r.SetCommand(trx.CmdRx)
			r.SetEDMode(trx.EDSingle)
			run(s)

			if got := len(c.Radio(1).Transmissions()); got != tt.wantTx {
				t.Errorf("transmissions = %d, want %d", got, tt.wantTx)
			}
			if r.CCABusy() != tt.wantCCAED {
				t.Errorf("CCAED = %v, want %v", r.CCABusy(), tt.wantCCAED)
			}
			if c.Radio(1).CCAs() != 1 {
				t.Errorf("CCAs = %d, want 1", c.Radio(1).CCAs())
			}
		})
	}
}

func TestFrameFilter(t *testing.T) {
	s, c := newTestChip()
	r := trx.NewRadio(c, 1)
	r.SetPANID(0xCAFE)
	r.SetShortAddress(0x0001)
	r.SetFrameFilter(true, false)
	r.SetCommand(trx.CmdRx)

	tests := []struct {
		name string
		dest uint16
		pan  uint16
		want bool
	}{
		{"unicast match", 0x0001, 0xCAFE, true},
		{"broadcast", 0xFFFF, 0xCAFE, true},
		{"other node", 0x0002, 0xCAFE, false},
		{"other PAN", 0x0001, 0xBEEF, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mpdu := frame.DataFrame{Seq: 1, PANID: tt.pan, Dest: tt.dest, Src: 9}.Bytes()
			if got := c.Radio(1).Deliver(mpdu, -60); got != tt.want {
				t.Errorf("Deliver = %v, want %v", got, tt.want)
			}
			run(s)
		})
	}
}

func TestHardwareAck(t *testing.T) {
	s, c := newTestChip()
	r := trx.NewRadio(c, 1)
	r.SetPANID(0xCAFE)
	r.SetShortAddress(0x0001)
	r.SetFrameFilter(true, false)
	r.SetAutoMode(trx.AutoMode{AACK: true})
	r.SetCommand(trx.CmdRx)

	mpdu := frame.DataFrame{Seq: 0x55, PANID: 0xCAFE, Dest: 1, Src: 2, AckRequest: true}.Bytes()
	c.Radio(1).Deliver(mpdu, -60)
	run(s)

	if c.Radio(1).Count(EventAckTx) != 1 {
		t.Fatalf("ACKs sent = %d, want 1", c.Radio(1).Count(EventAckTx))
	}
	for _, e := range c.Trace() {
		if e.Kind == EventAckTx && frame.Seq(e.MPDU) != 0x55 {
			t.Errorf("ACK sequence = %#x, want 0x55", frame.Seq(e.MPDU))
		}
	}
	if r.State() != trx.StateRx {
		t.Errorf("state after ACK = %v, want RX", r.State())
	}
}

func TestMediumCarriesFrames(t *testing.T) {
	clock := pal.NewSim()
	a, b := New(clock), New(clock)
	m := NewMedium()
	m.Attach(a)
	m.Attach(b)

	tx := trx.NewRadio(a, 1)
	tx.SetChannel(11)
	tx.SetCommand(trx.CmdTxPrep)
	rx := trx.NewRadio(b, 1)
	rx.SetChannel(11)
	rx.SetCommand(trx.CmdRx)

	// data frame to the broadcast address
	mpdu := []byte{0x01, 0x08, 0x05, 0xFF, 0xFF, 0xFF, 0xFF, 0xAA}
	tx.WriteTxFrame(mpdu, frame.FCSLen16)
	tx.SetCommand(trx.CmdTx)

	if !b.Radio(1).Receiving() {
		t.Fatal("peer not receiving")
	}
	if !b.Radio(1).ChannelBusy() {
		t.Error("CCA does not see the sender")
	}
	run(clock)
	if n := b.Radio(1).Count(EventRxEnd); n != 1 {
		t.Fatalf("%d receptions", n)
	}
	if b.Radio(1).ChannelBusy() {
		t.Error("channel busy after the frame")
	}

	rx.SetChannel(12)
	tx.SetCommand(trx.CmdTx)
	run(clock)
	if b.Radio(1).Count(EventRxEnd) != 1 {
		t.Error("frame crossed channels")
	}
}
