package tal

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/herlein/gotal/pkg/trx"
)

func TestSleepWakeupRestoresPIB(t *testing.T) {
	h := newHarness(t, nil)

	if st := h.tal.SetPIB(RF24, AttrPANID, uint16(0xBEEF)); st != Success {
		t.Fatalf("SetPIB(PANID) = %s", st)
	}
	if st := h.tal.SetPIB(RF24, AttrChannel, uint16(15)); st != Success {
		t.Fatalf("SetPIB(Channel) = %s", st)
	}

	for _, id := range []TrxID{RF24, RF09} {
		if st := h.tal.Sleep(id); st != Success {
			t.Fatalf("Sleep(%s) = %s", id, st)
		}
	}
	if !h.chip.DeepSleep() {
		t.Fatal("chip not in deep sleep with both transceivers asleep")
	}

	if st := h.tal.Wakeup(RF24); st != Success {
		t.Fatalf("Wakeup = %s", st)
	}
	if got := h.tal.State(RF24); got != StateIdle {
		t.Errorf("rf24 state %s after wakeup", got)
	}
	if got := h.tal.State(RF09); got != StateSleep {
		t.Errorf("rf09 state %s, want it left asleep", got)
	}
	if s := h.radio(RF09).State(); s != trx.StateSleep {
		t.Errorf("rf09 radio in %s, want SLEEP", s)
	}

	var pan [2]byte
	if err := h.chip.ReadRegs(trx.RegBBC0MACPID0F0+trx.BBBlockOffset, pan[:]); err != nil {
		t.Fatal(err)
	}
	if got := binary.LittleEndian.Uint16(pan[:]); got != 0xBEEF {
		t.Errorf("PAN ID register 0x%04X after deep sleep, want 0xBEEF", got)
	}
	if ch := trx.NewRadio(h.chip, int(RF24)).Channel(); ch != 15-rf24FirstChannel {
		t.Errorf("channel register %d, want %d", ch, 15-rf24FirstChannel)
	}
	if s := h.radio(RF24).State(); s != trx.StateRx {
		t.Errorf("rf24 radio in %s, want RX", s)
	}

	// and the transceiver works again
	h.radio(RF24).AckResponder = ackResponder(false)
	f := &Frame{MPDU: dataFrame(1, peerShort, true, "after sleep")}
	if st := h.tal.TxFrame(RF24, f, CSMAUnslotted, false); st != Success {
		t.Fatalf("TxFrame = %s", st)
	}
	h.runFor(20 * time.Millisecond)
	h.expectTxDone(Success)
}

func TestSleepStateErrors(t *testing.T) {
	h := newHarness(t, nil)

	if st := h.tal.Wakeup(RF24); st != TrxAwake {
		t.Errorf("Wakeup while awake = %s", st)
	}
	if st := h.tal.Sleep(RF24); st != Success {
		t.Fatalf("Sleep = %s", st)
	}
	if st := h.tal.Sleep(RF24); st != TrxAsleep {
		t.Errorf("second Sleep = %s", st)
	}

	f := &Frame{MPDU: dataFrame(1, peerShort, false, "x")}
	if st := h.tal.TxFrame(RF24, f, CSMAUnslotted, false); st != TrxAsleep {
		t.Errorf("TxFrame while asleep = %s", st)
	}
	if st := h.tal.SetPIB(RF24, AttrPANID, uint16(1)); st != TrxAsleep {
		t.Errorf("SetPIB while asleep = %s", st)
	}
	if st := h.tal.EDStart(RF24, time.Millisecond); st != TrxAsleep {
		t.Errorf("EDStart while asleep = %s", st)
	}
	if st := h.tal.Reset(RF24, false); st != TrxAsleep {
		t.Errorf("Reset while asleep = %s", st)
	}
	if _, st := h.tal.PIB(RF24); st != Success {
		t.Errorf("PIB read while asleep = %s", st)
	}

	// the sibling keeps working
	if st := h.tal.TxFrame(RF09, f, CSMAUnslotted, false); st != Success {
		t.Errorf("TxFrame on rf09 = %s", st)
	}
	h.runFor(20 * time.Millisecond)
	h.expectTxDone(Success)
	if h.chip.DeepSleep() {
		t.Error("deep sleep with one transceiver awake")
	}
}

func TestSleepReleasesReceiveBuffer(t *testing.T) {
	h := newHarness(t, nil)
	before, _, _ := h.tal.Buffers()

	if st := h.tal.Sleep(RF24); st != Success {
		t.Fatalf("Sleep = %s", st)
	}
	if inUse, _, _ := h.tal.Buffers(); inUse != before-1 {
		t.Errorf("%d buffers in use while asleep, want %d", inUse, before-1)
	}
	if h.radio(RF24).Deliver(dataFrame(1, testShort, false, "x"), -60) {
		t.Error("sleeping transceiver accepted a frame")
	}

	if st := h.tal.Wakeup(RF24); st != Success {
		t.Fatalf("Wakeup = %s", st)
	}
	if inUse, _, _ := h.tal.Buffers(); inUse != before {
		t.Errorf("%d buffers in use after wakeup, want %d", inUse, before)
	}
}

func TestWakeupTimeout(t *testing.T) {
	h := newHarness(t, nil)

	if st := h.tal.Sleep(RF24); st != Success {
		t.Fatalf("Sleep = %s", st)
	}
	h.radio(RF24).FailWakeup = true

	start := h.clock.Now()
	if st := h.tal.Wakeup(RF24); st != Failure {
		t.Fatalf("Wakeup = %s, want %s", st, Failure)
	}
	if waited := h.clock.Now() - start; waited < DefaultWakeupTimeout {
		t.Errorf("gave up after %v, want at least %v", waited, DefaultWakeupTimeout)
	}
	if got := h.tal.State(RF24); got != StateSleep {
		t.Errorf("state %s after failed wakeup", got)
	}

	if st := h.tal.Wakeup(RF24); st != Success {
		t.Errorf("retried Wakeup = %s", st)
	}
}

func TestWakeupFromDeepSleepFails(t *testing.T) {
	h := newHarness(t, nil)
	for _, id := range []TrxID{RF09, RF24} {
		if st := h.tal.Sleep(id); st != Success {
			t.Fatalf("Sleep(%s) = %s", id, st)
		}
	}
	// either wake command would power up the whole chip
	h.radio(RF09).FailWakeup = true
	h.radio(RF24).FailWakeup = true

	if st := h.tal.Wakeup(RF09); st != Failure {
		t.Fatalf("Wakeup = %s, want %s", st, Failure)
	}
	for _, id := range []TrxID{RF09, RF24} {
		if got := h.tal.State(id); got != StateSleep {
			t.Errorf("%s state %s", id, got)
		}
	}
}
