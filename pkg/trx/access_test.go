package trx_test

import (
	"errors"
	"testing"
	"time"

	"github.com/herlein/gotal/pkg/trx"
	"github.com/herlein/gotal/pkg/trx/mmio"
)

func newWindow(t *testing.T) ([]byte, *mmio.Window) {
	t.Helper()
	mem := make([]byte, trx.AddressSpace)
	w, err := mmio.NewWindow(mem)
	if err != nil {
		t.Fatal(err)
	}
	return mem, w
}

func TestRadioAddressing(t *testing.T) {
	mem, w := newWindow(t)
	rf24 := trx.NewRadio(w, 1)

	rf24.SetChannelScheme(0x8D68, 0xC8)
	rf24.SetChannel(0x1A5)
	rf24.SetPANID(0xCAFE)
	if err := rf24.Err(); err != nil {
		t.Fatal(err)
	}

	base := uint16(trx.RFBlockOffset)
	if mem[base+trx.RegRF09CS] != 0xC8 || mem[base+trx.RegRF09CCF0L] != 0x68 || mem[base+trx.RegRF09CCF0L+1] != 0x8D {
		t.Errorf("channel scheme bytes % X", mem[base+trx.RegRF09CS:base+trx.RegRF09CCF0L+2])
	}
	if mem[base+trx.RegRF09CNL] != 0xA5 || mem[base+trx.RegRF09CNM]&0x01 != 0x01 {
		t.Errorf("channel bytes %02X %02X", mem[base+trx.RegRF09CNL], mem[base+trx.RegRF09CNM])
	}
	if got := rf24.Channel(); got != 0x1A5 {
		t.Errorf("Channel() = 0x%X", got)
	}
	bb := uint16(trx.BBBlockOffset) + trx.RegBBC0MACPID0F0
	if mem[bb] != 0xFE || mem[bb+1] != 0xCA {
		t.Errorf("PAN ID bytes %02X %02X", mem[bb], mem[bb+1])
	}
	if mem[trx.RegRF09CNL] != 0 {
		t.Error("RF24 write landed in the RF09 block")
	}
}

func TestPartNumberAndReset(t *testing.T) {
	mem, w := newWindow(t)
	mem[trx.RegRFPN] = trx.PartNumAT86RF215
	mem[trx.RegRFPN+1] = 3

	pn, vn, err := trx.PartNumber(w)
	if err != nil || pn != trx.PartNumAT86RF215 || vn != 3 {
		t.Errorf("PartNumber = 0x%02X %d %v", pn, vn, err)
	}
	if err := trx.ResetChip(w); err != nil {
		t.Fatal(err)
	}
	if mem[trx.RegRFRST] != trx.RSTCmdReset {
		t.Errorf("RF_RST = 0x%02X", mem[trx.RegRFRST])
	}
}

func TestPHYConfiguration(t *testing.T) {
	mem, w := newWindow(t)
	rf09 := trx.NewRadio(w, 0)

	rf09.ConfigurePHY(trx.PTFSK, true)
	rf09.SetFSK(true, 3, 0x120)
	rf09.SetOQPSK(2, 1, false)
	rf09.SetOFDM(1, 5)
	if err := rf09.Err(); err != nil {
		t.Fatal(err)
	}

	if got := rf09.PHYType(); got != trx.PTFSK {
		t.Errorf("PHY type %d, want FSK", got)
	}
	if pc := mem[trx.RegBBC0PC]; pc&trx.PCFCST == 0 || pc&trx.PCBBEN == 0 {
		t.Errorf("BBC0_PC = 0x%02X", pc)
	}
	if mem[trx.RegBBC0FSKC0]&trx.FSKC0MORD4 == 0 {
		t.Error("4-FSK not selected")
	}
	if c1 := mem[trx.RegBBC0FSKC1]; c1 != 3|trx.FSKC1FSKPLH {
		t.Errorf("BBC0_FSKC1 = 0x%02X", c1)
	}
	if mem[trx.RegBBC0FSKPLL] != 0x20 {
		t.Errorf("BBC0_FSKPLL = 0x%02X", mem[trx.RegBBC0FSKPLL])
	}
	if mem[trx.RegBBC0OQPSKC0] != 2 || mem[trx.RegBBC0OQPSKPHRTX] != 1<<trx.OQPSKPHRTXMODShift {
		t.Errorf("O-QPSK bytes %02X %02X", mem[trx.RegBBC0OQPSKC0], mem[trx.RegBBC0OQPSKPHRTX])
	}
	if mem[trx.RegBBC0OFDMC] != 1 || mem[trx.RegBBC0OFDMPHRTX] != 5 {
		t.Errorf("OFDM bytes %02X %02X", mem[trx.RegBBC0OFDMC], mem[trx.RegBBC0OFDMPHRTX])
	}

	rf09.SetOQPSK(0, 0, true)
	if mem[trx.RegBBC0OQPSKPHRTX]&trx.OQPSKPHRTXLEG == 0 {
		t.Error("legacy O-QPSK not selected")
	}
}

func TestEDDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want uint8
	}{
		{time.Microsecond, 1<<2 | 0},
		{126 * time.Microsecond, 63<<2 | 0},
		{128 * time.Microsecond, 16<<2 | 1},
		{10 * time.Millisecond, 63<<2 | 3},
	}
	for _, tt := range tests {
		if got := trx.EDDuration(tt.d); got != tt.want {
			t.Errorf("EDDuration(%s) = 0x%02X, want 0x%02X", tt.d, got, tt.want)
		}
	}
}

type failing struct{}

var errBus = errors.New("bus fault")

func (failing) ReadReg(addr uint16) (uint8, error) { return 0xFF, errBus }

func (failing) ReadRegs(addr uint16, buf []byte) error { return errBus }

func (failing) WriteReg(addr uint16, value uint8) error { return errBus }

func (failing) WriteRegs(addr uint16, data []byte) error { return errBus }

func TestRadioKeepsFirstError(t *testing.T) {
	r := trx.NewRadio(failing{}, 0)
	r.SetCommand(trx.CmdRx)
	if st := r.State(); st != 0 {
		t.Errorf("read after failure = %v", st)
	}
	if err := r.Err(); !errors.Is(err, errBus) {
		t.Fatalf("Err() = %v", err)
	}
	r.ClearErr()
	if r.Err() != nil {
		t.Error("error survived ClearErr")
	}
}

func TestRegisterMapRoundTrip(t *testing.T) {
	_, src := newWindow(t)
	r := trx.NewRadio(src, 0)
	r.SetChannelScheme(0x8D90, 0x50)
	r.SetChannel(3)
	r.SetShortAddress(0x1234)

	m, err := trx.ReadAllRegisters(src)
	if err != nil {
		t.Fatalf("ReadAllRegisters: %v", err)
	}
	if m.RF09.CNL != 3 || m.RF09.CS != 0x50 || m.RF09.MACSHA0F0 != 0x34 {
		t.Errorf("map %+v", m.RF09)
	}

	_, dst := newWindow(t)
	if err := trx.WriteAllRegisters(dst, m); err != nil {
		t.Fatalf("WriteAllRegisters: %v", err)
	}
	back, err := trx.ReadAllRegisters(dst)
	if err != nil {
		t.Fatal(err)
	}
	if back.RF09 != m.RF09 {
		t.Errorf("written map reads back as %+v", back.RF09)
	}
}
