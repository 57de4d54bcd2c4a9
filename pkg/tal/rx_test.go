package tal

import (
	"bytes"
	"testing"
	"time"

	"github.com/herlein/gotal/pkg/frame"
	"github.com/herlein/gotal/pkg/trx"
	"github.com/herlein/gotal/pkg/trx/sim"
)

func TestReceiveFrame(t *testing.T) {
	h := newHarness(t, nil)
	r := h.radio(RF24)

	mpdu := dataFrame(11, testShort, false, "data")
	if !r.Deliver(mpdu, -60) {
		t.Fatal("frame not accepted")
	}
	h.runFor(5 * time.Millisecond)

	if len(h.rx) != 1 {
		t.Fatalf("%d frames delivered, want 1", len(h.rx))
	}
	got := h.rx[0]
	if got.id != RF24 {
		t.Errorf("delivered on %s", got.id)
	}
	if !bytes.Equal(got.mpdu, mpdu) {
		t.Errorf("mpdu % X, want % X", got.mpdu, mpdu)
	}
	if got.ed != -60 {
		t.Errorf("ED %d dBm, want -60", got.ed)
	}
	if want := scaleED(-60); got.lqi != want {
		t.Errorf("LQI %d, want %d", got.lqi, want)
	}
	if got.stamp <= 0 || got.stamp > h.clock.Now() {
		t.Errorf("timestamp %v out of range", got.stamp)
	}
	if inUse, _, _ := h.tal.Buffers(); inUse != int(NumTrx) {
		t.Errorf("%d buffers in use after delivery, want %d", inUse, NumTrx)
	}
	if r.State() != trx.StateRx {
		t.Errorf("radio in %s, want RX", r.State())
	}
}

func TestReceiveOrder(t *testing.T) {
	h := newHarness(t, nil)
	r := h.radio(RF24)

	var sent [][]byte
	for seq := uint8(1); seq <= 3; seq++ {
		mpdu := dataFrame(seq, frame.BroadcastAddr, false, "n")
		sent = append(sent, mpdu)
		if !r.Deliver(mpdu, -70) {
			t.Fatalf("frame %d not accepted", seq)
		}
		h.runFor(2 * time.Millisecond)
	}

	if len(h.rx) != len(sent) {
		t.Fatalf("%d frames delivered, want %d", len(h.rx), len(sent))
	}
	for i := range sent {
		if !bytes.Equal(h.rx[i].mpdu, sent[i]) {
			t.Errorf("frame %d out of order", i)
		}
	}
}

func TestReceiveWithHardwareAck(t *testing.T) {
	h := newHarness(t, nil)
	r := h.radio(RF24)

	if !r.Deliver(dataFrame(0x21, testShort, true, "ack me"), -55) {
		t.Fatal("frame not accepted")
	}
	ackOnAir := func() bool { return h.tal.trx[RF24].ackTransmitting }
	if !h.runUntil(5*time.Millisecond, ackOnAir) {
		t.Fatal("automatic ACK not tracked")
	}
	if len(h.rx) != 0 {
		t.Error("frame delivered before its ACK went out")
	}
	if st := h.tal.TxFrame(RF24, &Frame{MPDU: dataFrame(1, peerShort, false, "x")}, NoCSMANoIFS, false); st != Busy {
		t.Errorf("TxFrame during ACK = %s, want %s", st, Busy)
	}

	h.runFor(5 * time.Millisecond)
	if len(h.rx) != 1 {
		t.Fatalf("%d frames delivered, want 1", len(h.rx))
	}
	if n := r.Count(sim.EventAckTx); n != 1 {
		t.Errorf("%d ACKs sent, want 1", n)
	}
	if h.tal.trx[RF24].ackTransmitting {
		t.Error("ACK transmission still tracked")
	}
}

func TestFCSTypeMismatch(t *testing.T) {
	h := newHarness(t, nil)
	r := h.radio(RF24)

	if !r.DeliverReception(sim.Reception{MPDU: dataFrame(1, testShort, false, "x"), ED: -60, FCS32: true}) {
		t.Fatal("frame not accepted")
	}
	h.runFor(5 * time.Millisecond)
	if len(h.rx) != 0 {
		t.Errorf("frame with foreign FCS delivered: %+v", h.rx)
	}
	if r.State() != trx.StateRx {
		t.Errorf("radio in %s, want RX", r.State())
	}
}

func TestBufferShortage(t *testing.T) {
	h := newHarness(t, nil)
	r := h.radio(RF24)

	// exhaust the large buffers
	var held []*rxBuffer
	for {
		b := h.tal.pool.Alloc(h.tal.cfg.Buffers.LargeBufferSize)
		if b == nil {
			break
		}
		held = append(held, b)
	}

	// the held receive buffer takes this frame, no replacement is left
	if !r.Deliver(dataFrame(1, testShort, false, "first"), -60) {
		t.Fatal("first frame not accepted")
	}
	h.runUntil(5*time.Millisecond, func() bool { return len(h.rx) == 1 })
	if len(h.rx) != 1 {
		t.Fatalf("%d frames delivered, want 1", len(h.rx))
	}

	for _, b := range held {
		h.tal.pool.Free(b)
	}
	h.runFor(time.Millisecond)

	if h.tal.trx[RF24].bufShortage {
		t.Error("shortage not resolved after buffers were freed")
	}
	if r.State() != trx.StateRx {
		t.Errorf("radio in %s, want RX", r.State())
	}
	if !r.Deliver(dataFrame(2, testShort, false, "second"), -60) {
		t.Fatal("second frame not accepted")
	}
	h.runFor(5 * time.Millisecond)
	if len(h.rx) != 2 {
		t.Errorf("%d frames delivered, want 2", len(h.rx))
	}
}

func TestReceiverParkedWithoutBuffer(t *testing.T) {
	h := newHarness(t, nil)
	r := h.radio(RF24)
	tr := h.tal.trx[RF24]

	h.tal.pool.Free(tr.rxBuf)
	tr.rxBuf = nil
	var held []*rxBuffer
	for {
		b := h.tal.pool.Alloc(h.tal.cfg.Buffers.LargeBufferSize)
		if b == nil {
			break
		}
		held = append(held, b)
	}

	if !r.Deliver(dataFrame(1, testShort, false, "lost"), -60) {
		t.Fatal("frame not accepted")
	}
	h.runUntil(5*time.Millisecond, func() bool { return tr.bufShortage })
	if !tr.bufShortage {
		t.Fatal("no shortage recorded")
	}
	if r.State() != trx.StateTrxOff {
		t.Errorf("radio in %s during shortage, want TRXOFF", r.State())
	}
	if r.Deliver(dataFrame(2, testShort, false, "dropped"), -60) {
		t.Error("frame accepted while parked")
	}

	h.tal.pool.Free(held[0])
	h.runFor(time.Millisecond)
	if tr.bufShortage || r.State() != trx.StateRx {
		t.Errorf("receiver not restored: shortage %v, radio %s", tr.bufShortage, r.State())
	}
	if len(h.rx) != 0 {
		t.Errorf("%d frames delivered, want 0", len(h.rx))
	}
}

func TestEnergyDetection(t *testing.T) {
	tests := []struct {
		name string
		busy bool
		want uint8
	}{
		{"idle", false, scaleED(sim.IdleEnergy)},
		{"busy", true, scaleED(sim.BusyEnergy)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			h.radio(RF24).ChannelBusy = func() bool { return tt.busy }

			if st := h.tal.EDStart(RF24, time.Millisecond); st != Success {
				t.Fatalf("EDStart = %s", st)
			}
			if got := h.tal.State(RF24); got != StateEDScan {
				t.Errorf("state %s during scan", got)
			}
			h.runFor(2 * time.Millisecond)

			if len(h.ed) != 1 || h.ed[0] != tt.want {
				t.Errorf("EDEnd %v, want [%d]", h.ed, tt.want)
			}
			if got := h.tal.State(RF24); got != StateIdle {
				t.Errorf("state %s after scan", got)
			}
		})
	}
}

func TestBatteryLowReportedOnce(t *testing.T) {
	h := newHarness(t, nil)
	r := h.radio(RF09)

	r.InjectBatteryLow()
	h.runFor(time.Millisecond)
	r.InjectBatteryLow()
	h.radio(RF24).Deliver(dataFrame(1, testShort, false, "x"), -60)
	h.runFor(5 * time.Millisecond)

	if len(h.batLow) != 1 || h.batLow[0] != RF09 {
		t.Errorf("BatteryLow calls %v, want [rf09]", h.batLow)
	}
}

func TestScaleED(t *testing.T) {
	tests := []struct {
		ed   int8
		want uint8
	}{
		{-127, 0},
		{edFloor, 0},
		{edFloor + edRange/2, 127},
		{edFloor + edRange, 255},
		{0, 255},
	}
	for _, tt := range tests {
		if got := scaleED(tt.ed); got != tt.want {
			t.Errorf("scaleED(%d) = %d, want %d", tt.ed, got, tt.want)
		}
	}
}

func TestLevelToDBm(t *testing.T) {
	if got := LevelToDBm(0); got != edFloor {
		t.Errorf("LevelToDBm(0) = %d", got)
	}
	if got := LevelToDBm(255); got != edFloor+edRange {
		t.Errorf("LevelToDBm(255) = %d", got)
	}
	if got := LevelToDBm(scaleED(-61)); got != -62 && got != -61 {
		t.Errorf("LevelToDBm(scaleED(-61)) = %d", got)
	}
	if first, last := ChannelRange(RF09); first != 1 || last != 10 {
		t.Errorf("RF09 channels %d..%d", first, last)
	}
}
