package tal

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/herlein/gotal/pkg/frame"
	"github.com/herlein/gotal/pkg/trx"
	"github.com/herlein/gotal/pkg/trx/sim"
)

func TestPHYTiming(t *testing.T) {
	tests := []struct {
		name    string
		phy     PHY
		fcsLen  int
		symbol  time.Duration
		cca     time.Duration
		ackWait time.Duration
	}{
		{"legacy O-QPSK", DefaultPHY(), frame.FCSLen16,
			16 * time.Microsecond, 128 * time.Microsecond, 864 * time.Microsecond},
		{"MR-O-QPSK 2000 kchip/s", PHY{Modulation: ModOQPSK, ChipRate: ChipRate2000}, frame.FCSLen32,
			64 * time.Microsecond, 512 * time.Microsecond, 10304 * time.Microsecond},
		{"2-FSK 50 ksym/s", PHY{Modulation: ModFSK, SymbolRate: FSKRate50, Preamble: 8}, frame.FCSLen16,
			20 * time.Microsecond, 160 * time.Microsecond, 4880 * time.Microsecond},
		{"OFDM option 1 MCS 3", PHY{Modulation: ModOFDM, Option: 1, MCS: 3}, frame.FCSLen32,
			120 * time.Microsecond, 960 * time.Microsecond, 4320 * time.Microsecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.phy.Validate(); err != nil {
				t.Fatal(err)
			}
			if got := tt.phy.SymbolDuration(); got != tt.symbol {
				t.Errorf("symbol %v, want %v", got, tt.symbol)
			}
			if got := tt.phy.CCADuration(); got != tt.cca {
				t.Errorf("CCA %v, want %v", got, tt.cca)
			}
			if got := tt.phy.AckWaitDuration(tt.fcsLen); got != tt.ackWait {
				t.Errorf("ACK wait %v, want %v", got, tt.ackWait)
			}
		})
	}
}

func TestPHYDataRate(t *testing.T) {
	tests := []struct {
		phy  PHY
		kbps float64
	}{
		{DefaultPHY(), 250},
		{PHY{Modulation: ModOQPSK, ChipRate: ChipRate2000}, 31.25},
		{PHY{Modulation: ModOQPSK, ChipRate: ChipRate1000, RateMode: 4}, 500},
		{PHY{Modulation: ModFSK, SymbolRate: FSKRate100, FourLevel: true, Preamble: 8}, 200},
		{PHY{Modulation: ModOFDM, Option: 2, MCS: 6}, 1200},
	}
	for _, tt := range tests {
		if got := tt.phy.DataRate(); got != tt.kbps {
			t.Errorf("%s: %v kbit/s, want %v", tt.phy, got, tt.kbps)
		}
	}
}

func TestPHYValidate(t *testing.T) {
	bad := []PHY{
		{Modulation: ModOQPSK, ChipRate: 4},
		{Modulation: ModOQPSK, RateMode: 5},
		{Modulation: ModFSK, SymbolRate: 6, Preamble: 8},
		{Modulation: ModFSK, Preamble: 2},
		{Modulation: ModOFDM, Option: 0},
		{Modulation: ModOFDM, Option: 1, MCS: 7},
		{Modulation: 9},
	}
	for _, p := range bad {
		if err := p.Validate(); err == nil {
			t.Errorf("%+v accepted", p)
		}
	}
}

func TestModulationText(t *testing.T) {
	var m Modulation
	if err := m.UnmarshalText([]byte("OFDM")); err != nil || m != ModOFDM {
		t.Errorf("UnmarshalText(OFDM) = %v, %v", m, err)
	}
	if err := m.UnmarshalText([]byte("gfsk")); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("unknown modulation error %v", err)
	}
	b, _ := ModFSK.MarshalText()
	if string(b) != "fsk" {
		t.Errorf("MarshalText = %q", b)
	}
}

func TestModeSwitchPHR(t *testing.T) {
	phr, err := ModeSwitchPHR(PHY{Modulation: ModFSK, SymbolRate: FSKRate50, Preamble: 8}, false)
	if err != nil {
		t.Fatal(err)
	}
	// MS bit, FSK operating mode 1, BCH checksum 0xA, even parity
	if phr != 0x5401 {
		t.Errorf("PHR 0x%04X, want 0x5401", phr)
	}

	tests := []struct {
		name string
		id   TrxID
		phy  PHY
		want PHY
	}{
		{"FSK mode 2", RF24,
			PHY{Modulation: ModFSK, SymbolRate: FSKRate150, Preamble: 8},
			PHY{Modulation: ModFSK, SymbolRate: FSKRate150, Preamble: 8}},
		{"OFDM option 3", RF09,
			PHY{Modulation: ModOFDM, Option: 3, MCS: 2},
			PHY{Modulation: ModOFDM, Option: 3, MCS: 2}},
		{"O-QPSK sub-GHz", RF09,
			PHY{Modulation: ModOQPSK},
			PHY{Modulation: ModOQPSK, ChipRate: ChipRate1000}},
		{"O-QPSK 2.4 GHz", RF24,
			PHY{Modulation: ModOQPSK},
			PHY{Modulation: ModOQPSK, ChipRate: ChipRate2000}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			phr, err := ModeSwitchPHR(tt.phy, false)
			if err != nil {
				t.Fatal(err)
			}
			cur := PHY{Modulation: ModOFDM, Option: 1, MCS: 2}
			got, err := ParseModeSwitchPHR(tt.id, phr, cur)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("decoded %s, want %s", got, tt.want)
			}
		})
	}
}

func TestModeSwitchPHRErrors(t *testing.T) {
	if _, err := ModeSwitchPHR(PHY{Modulation: ModFSK, SymbolRate: FSKRate50, FourLevel: true, Preamble: 8}, false); !errors.Is(err, ErrModeUnsupported) {
		t.Errorf("4-FSK: %v", err)
	}
	if _, err := ModeSwitchPHR(DefaultPHY(), false); !errors.Is(err, ErrModeUnsupported) {
		t.Errorf("legacy O-QPSK: %v", err)
	}
	if _, err := ParseModeSwitchPHR(RF24, 0x5400, DefaultPHY()); !errors.Is(err, ErrNotModeSwitch) {
		t.Errorf("MS bit clear: %v", err)
	}
	if _, err := ParseModeSwitchPHR(RF24, 0x5401^0x0800, DefaultPHY()); !errors.Is(err, ErrModeSwitchCheck) {
		t.Errorf("corrupted checksum: %v", err)
	}
	if _, err := ParseModeSwitchPHR(RF24, 0x5401^0x0400, DefaultPHY()); !errors.Is(err, ErrModeSwitchCheck) {
		t.Errorf("corrupted mode: %v", err)
	}
}

func TestSwitchAndRestorePHY(t *testing.T) {
	h := newHarness(t, nil)
	tr := h.tal.trx[RF24]
	fsk := PHY{Modulation: ModFSK, SymbolRate: FSKRate100, Preamble: 16}

	if st := h.tal.RestorePHY(RF24); st != Failure {
		t.Errorf("RestorePHY without a switch = %s", st)
	}
	if st := h.tal.SwitchPHY(RF24, PHY{Modulation: ModOFDM, Option: 7}); st != InvalidParameter {
		t.Errorf("SwitchPHY(bad) = %s", st)
	}
	if st := h.tal.SwitchPHY(RF24, fsk); st != Success {
		t.Fatalf("SwitchPHY = %s", st)
	}
	if v, _ := h.tal.GetPIB(RF24, AttrPHY); v != fsk {
		t.Errorf("PIB PHY %v", v)
	}
	if pt := tr.radio.PHYType(); pt != trx.PTFSK {
		t.Errorf("PHY type %d, want FSK", pt)
	}
	if got, want := tr.symbolTime(), 20*time.Microsecond; got != want {
		t.Errorf("symbol time %v, want %v", got, want)
	}
	if h.radio(RF24).State() != trx.StateRx {
		t.Errorf("radio in %s after switch", h.radio(RF24).State())
	}

	if st := h.tal.RestorePHY(RF24); st != Success {
		t.Fatalf("RestorePHY = %s", st)
	}
	if v, _ := h.tal.GetPIB(RF24, AttrPHY); v != DefaultPHY() {
		t.Errorf("PIB PHY %v after restore", v)
	}
	if pt := tr.radio.PHYType(); pt != trx.PTOQPSK {
		t.Errorf("PHY type %d after restore", pt)
	}
	if st := h.tal.RestorePHY(RF24); st != Failure {
		t.Errorf("second RestorePHY = %s", st)
	}
}

func TestAckWaitFollowsPHY(t *testing.T) {
	h := newHarness(t, nil)
	fsk := PHY{Modulation: ModFSK, SymbolRate: FSKRate50, Preamble: 8}
	if st := h.tal.SetPIB(RF24, AttrPHY, fsk); st != Success {
		t.Fatalf("SetPIB(PHY) = %s", st)
	}

	mpdu := dataFrame(3, peerShort, true, "x")
	start := h.clock.Now()
	if st := h.tal.TxFrame(RF24, &Frame{MPDU: mpdu}, NoCSMANoIFS, false); st != Success {
		t.Fatalf("TxFrame = %s", st)
	}
	h.runFor(20 * time.Millisecond)

	h.expectTxDone(NoAck)
	wait := fsk.AckWaitDuration(frame.FCSLen16)
	if earliest := start + sim.Airtime(len(mpdu)+frame.FCSLen16) + wait; h.txDone[0].at < earliest {
		t.Errorf("NoAck at %v, before the %v ACK wait ended at %v", h.txDone[0].at, wait, earliest)
	}
}

func TestTxFrameModeSwitch(t *testing.T) {
	h := newHarness(t, nil)
	r := h.radio(RF24)
	tr := h.tal.trx[RF24]
	ofdm := PHY{Modulation: ModOFDM, Option: 2, MCS: 3}

	var types []uint8
	r.OnAir = func([]byte) { types = append(types, tr.radio.PHYType()) }

	mpdu := dataFrame(9, peerShort, false, "new mode")
	if st := h.tal.TxFrameModeSwitch(RF24, &Frame{MPDU: mpdu}, ofdm); st != Success {
		t.Fatalf("TxFrameModeSwitch = %s", st)
	}
	h.runFor(20 * time.Millisecond)
	h.expectTxDone(Success)

	var sent []sim.Event
	for _, e := range h.chip.Trace() {
		if e.Radio == int(RF24) && e.Kind == sim.EventTx {
			sent = append(sent, e)
		}
	}
	if len(sent) != 2 {
		t.Fatalf("%d transmissions, want the PHR and the frame", len(sent))
	}
	if len(sent[0].MPDU) != 0 {
		t.Errorf("mode switch PPDU carried % X", sent[0].MPDU)
	}
	if !bytes.Equal(sent[1].MPDU, mpdu) {
		t.Errorf("sent % X, want % X", sent[1].MPDU, mpdu)
	}
	if gap := sent[1].At - (sent[0].At + sim.Airtime(2)); gap < DefaultModeSwitchSettle {
		t.Errorf("frame %v after the PHR, want at least %v", gap, DefaultModeSwitchSettle)
	}
	if len(types) != 2 || types[0] != trx.PTFSK || types[1] != trx.PTOFDM {
		t.Errorf("PHY types on air %v, want FSK then OFDM", types)
	}

	if v, _ := h.tal.GetPIB(RF24, AttrPHY); v != DefaultPHY() {
		t.Errorf("PIB PHY %v after the mode switch frame", v)
	}
	if pt := tr.radio.PHYType(); pt != trx.PTOQPSK {
		t.Errorf("PHY type %d after the mode switch frame", pt)
	}
	if h.tal.State(RF24) != StateIdle {
		t.Errorf("state %s", h.tal.State(RF24))
	}
}

func TestTxFrameModeSwitchRejected(t *testing.T) {
	h := newHarness(t, nil)
	f := &Frame{MPDU: dataFrame(1, peerShort, false, "x")}
	if st := h.tal.TxFrameModeSwitch(RF24, f, DefaultPHY()); st != InvalidParameter {
		t.Errorf("legacy target = %s", st)
	}
	if st := h.tal.TxFrameModeSwitch(RF24, f, PHY{Modulation: ModOFDM}); st != InvalidParameter {
		t.Errorf("invalid target = %s", st)
	}
	if st := h.tal.TxFrameModeSwitch(RF24, nil, PHY{Modulation: ModOQPSK}); st != InvalidParameter {
		t.Errorf("nil frame = %s", st)
	}
}
