package tal

import (
	"fmt"
	"strings"
	"time"

	"github.com/herlein/gotal/pkg/frame"
	"github.com/herlein/gotal/pkg/trx"
)

// Modulation selects the PHY family a transceiver runs
type Modulation uint8

const (
	// ModLegacyOQPSK is the 250 kbit/s O-QPSK PHY of IEEE 802.15.4-2006
	ModLegacyOQPSK Modulation = iota
	ModOQPSK                  // SUN MR-O-QPSK
	ModFSK                    // SUN MR-FSK
	ModOFDM                   // SUN MR-OFDM
)

var modulationNames = []string{"legacy-oqpsk", "oqpsk", "fsk", "ofdm"}

func (m Modulation) String() string {
	if int(m) < len(modulationNames) {
		return modulationNames[m]
	}
	return fmt.Sprintf("Modulation(%d)", uint8(m))
}

// MarshalText implements encoding.TextMarshaler
func (m Modulation) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (m *Modulation) UnmarshalText(b []byte) error {
	s := strings.ToLower(string(b))
	if s == "" {
		*m = ModLegacyOQPSK
		return nil
	}
	for i, n := range modulationNames {
		if s == n {
			*m = Modulation(i)
			return nil
		}
	}
	return fmt.Errorf("%w: unknown modulation %q", ErrInvalidConfig, b)
}

// MR-O-QPSK chip rates, as the OQPSKC0.FCHIP field encodes them
const (
	ChipRate100 uint8 = iota // kchip/s
	ChipRate200
	ChipRate1000
	ChipRate2000
)

// MR-FSK symbol rates, as the FSKC1.SRATE field encodes them
const (
	FSKRate50 uint8 = iota // ksymbol/s
	FSKRate100
	FSKRate150
	FSKRate200
	FSKRate300
	FSKRate400
)

// Per chip rate tables for MR-O-QPSK
var (
	oqpskSymbolUS   = [...]int{320, 160, 64, 64}
	oqpskSymbolLen  = [...]int{32, 32, 64, 128} // chips per symbol
	oqpskChipKbps   = [...]int{100, 200, 1000, 2000}
	oqpskCCASymbols = [...]int{4, 4, 8, 8}
	oqpskSHRSymbols = [...]int{48, 48, 72, 72}
)

var fskSymbolKbps = [...]int{50, 100, 150, 200, 300, 400}

// ofdmKbps is the PSDU data rate by MCS (rows) and option (columns)
var ofdmKbps = [7][4]int{
	{100, 50, 25, 12},
	{200, 100, 50, 25},
	{400, 200, 100, 50},
	{800, 400, 200, 100},
	{1200, 600, 300, 150},
	{1600, 800, 400, 200},
	{2400, 1200, 600, 300},
}

// minTurnaroundSUN is aMinTurnaroundTimeSUNPHY
const minTurnaroundSUN = 1000 // us

// PHY describes the modulation and rate of a transceiver. Fields that do not
// belong to Modulation are ignored.
type PHY struct {
	Modulation Modulation `json:"modulation" yaml:"modulation"`

	// MR-O-QPSK
	ChipRate uint8 `json:"chip_rate,omitempty" yaml:"chip_rate,omitempty"`
	RateMode uint8 `json:"rate_mode,omitempty" yaml:"rate_mode,omitempty"` // 0..4

	// MR-FSK
	SymbolRate uint8  `json:"symbol_rate,omitempty" yaml:"symbol_rate,omitempty"`
	FourLevel  bool   `json:"four_level,omitempty" yaml:"four_level,omitempty"`
	Preamble   uint16 `json:"preamble,omitempty" yaml:"preamble,omitempty"` // octets

	// MR-OFDM
	Option uint8 `json:"option,omitempty" yaml:"option,omitempty"` // 1..4
	MCS    uint8 `json:"mcs,omitempty" yaml:"mcs,omitempty"`       // 0..6
}

// DefaultPHY is the legacy O-QPSK PHY both transceivers start with
func DefaultPHY() PHY {
	return PHY{Modulation: ModLegacyOQPSK}
}

// csmPHY is the common signaling mode the mode switch PPDU is sent in
var csmPHY = PHY{Modulation: ModFSK, SymbolRate: FSKRate50, Preamble: 8}

// Validate checks the fields used by the selected modulation
func (p PHY) Validate() error {
	switch p.Modulation {
	case ModLegacyOQPSK:
	case ModOQPSK:
		if int(p.ChipRate) >= len(oqpskSymbolUS) {
			return fmt.Errorf("chip rate index %d out of range", p.ChipRate)
		}
		if p.RateMode > 4 {
			return fmt.Errorf("rate mode %d out of range", p.RateMode)
		}
	case ModFSK:
		if int(p.SymbolRate) >= len(fskSymbolKbps) {
			return fmt.Errorf("symbol rate index %d out of range", p.SymbolRate)
		}
		if p.Preamble < 4 || p.Preamble > 0x1FF {
			return fmt.Errorf("preamble of %d octets out of range", p.Preamble)
		}
	case ModOFDM:
		if p.Option < 1 || p.Option > 4 {
			return fmt.Errorf("OFDM option %d out of range", p.Option)
		}
		if int(p.MCS) >= len(ofdmKbps) {
			return fmt.Errorf("MCS %d out of range", p.MCS)
		}
	default:
		return fmt.Errorf("unknown modulation %d", p.Modulation)
	}
	return nil
}

func (p PHY) String() string {
	switch p.Modulation {
	case ModOQPSK:
		return fmt.Sprintf("%s %d kchip/s mode %d", p.Modulation, oqpskChipKbps[p.ChipRate], p.RateMode)
	case ModFSK:
		order := 2
		if p.FourLevel {
			order = 4
		}
		return fmt.Sprintf("%d-%s %d ksym/s", order, p.Modulation, fskSymbolKbps[p.SymbolRate])
	case ModOFDM:
		return fmt.Sprintf("%s option %d MCS %d", p.Modulation, p.Option, p.MCS)
	}
	return p.Modulation.String()
}

// phyType is the BBCn_PC.PT value of the modulation
func (p PHY) phyType() uint8 {
	switch p.Modulation {
	case ModFSK:
		return trx.PTFSK
	case ModOFDM:
		return trx.PTOFDM
	}
	return trx.PTOQPSK
}

func (p PHY) symbolUS() int {
	switch p.Modulation {
	case ModOQPSK:
		return oqpskSymbolUS[p.ChipRate]
	case ModFSK:
		return 20
	case ModOFDM:
		return 120
	}
	return frame.DefaultSymbolTime
}

// SymbolDuration is the duration of one PHY symbol, the unit of backoff
// periods and inter-frame spacing.
func (p PHY) SymbolDuration() time.Duration {
	return time.Duration(p.symbolUS()) * time.Microsecond
}

func (p PHY) ccaSymbols() int {
	if p.Modulation == ModOQPSK {
		return oqpskCCASymbols[p.ChipRate]
	}
	return 8
}

// CCADuration is the energy measurement time of a CCA, also used as the
// ED averaging time between scans.
func (p PHY) CCADuration() time.Duration {
	return time.Duration(p.ccaSymbols()) * p.SymbolDuration()
}

func (p PHY) shrSymbols() int {
	switch p.Modulation {
	case ModOQPSK:
		return oqpskSHRSymbols[p.ChipRate]
	case ModFSK:
		return (int(p.Preamble) + 2) * 8 // preamble and 2 octet SFD
	case ModOFDM:
		return 6
	}
	return 10
}

func (p PHY) phrSymbols() int {
	switch p.Modulation {
	case ModOQPSK:
		return 15
	case ModFSK:
		return 2 * 8
	case ModOFDM:
		if p.Option == 1 {
			return 3
		}
		return 6
	}
	return 2
}

// DataRate is the PSDU rate in kbit/s
func (p PHY) DataRate() float64 {
	switch p.Modulation {
	case ModOQPSK:
		return float64(oqpskChipKbps[p.ChipRate]) / float64(p.oqpskSpreading()) / 2
	case ModFSK:
		r := float64(fskSymbolKbps[p.SymbolRate])
		if p.FourLevel {
			r *= 2
		}
		return r
	case ModOFDM:
		return float64(ofdmKbps[p.MCS][p.Option-1])
	}
	return 250
}

func (p PHY) octetUS() int {
	return int(8000 / p.DataRate())
}

func (p PHY) oqpskSpreading() int {
	if p.RateMode == 4 {
		return 1
	}
	spread := 1 << (3 - p.RateMode)
	switch p.ChipRate {
	case ChipRate1000:
		spread *= 2
	case ChipRate2000:
		spread *= 4
	}
	return spread
}

// ceilSymbols converts us to whole symbols, rounding up
func (p PHY) ceilSymbols(us int) int {
	sym := p.symbolUS()
	return (us + sym - 1) / sym
}

// oqpskAckPSDUSymbols is the MR-O-QPSK PSDU duration of an ACK
func (p PHY) oqpskAckPSDUSymbols() int {
	ns := oqpskSymbolLen[p.ChipRate]
	npsdu := p.oqpskSpreading() * 2 * 63
	d := (npsdu + ns - 1) / ns
	block := 16 * ns
	return d + (npsdu+block-1)/block
}

// AckWaitDuration is macAckWaitDuration: how long a transmitter listens for
// the ACK after the end of its frame.
func (p PHY) AckWaitDuration(fcsLen int) time.Duration {
	var sym int
	if p.Modulation == ModLegacyOQPSK {
		sym = frame.UnitBackoffPeriod + frame.TurnaroundTime + p.shrSymbols() + p.phrSymbols() +
			(frame.AckLen+frame.FCSLen16)*frame.SymbolsPerOctet
		return time.Duration(sym) * p.SymbolDuration()
	}

	// backoff period and turnaround, then the ACK on air
	sym = 2*p.ceilSymbols(minTurnaroundSUN) + p.ccaSymbols() + p.shrSymbols()
	ackLen := frame.AckLen + fcsLen
	switch p.Modulation {
	case ModOQPSK:
		sym += p.phrSymbols() + p.oqpskAckPSDUSymbols()
	case ModFSK:
		n := ackLen + 2 // PHR at the PSDU rate
		if p.FourLevel {
			n /= 2
		}
		sym += n * 8
	case ModOFDM:
		sym += p.phrSymbols() + p.ceilSymbols(ackLen*p.octetUS())
	}
	return time.Duration(sym) * p.SymbolDuration()
}

func (tr *transceiver) symbolTime() time.Duration {
	return tr.pib.PHY.SymbolDuration()
}

func (tr *transceiver) ackWaitDuration() time.Duration {
	return tr.pib.PHY.AckWaitDuration(tr.pib.fcsLen())
}

// writePHY programs modulation, rate and the CCA averaging time of p
func (tr *transceiver) writePHY(p PHY) {
	r := tr.radio
	r.ConfigurePHY(p.phyType(), !tr.pib.FCS32)
	switch p.Modulation {
	case ModLegacyOQPSK:
		chip := ChipRate2000
		if tr.id == RF09 {
			chip = ChipRate1000
		}
		r.SetOQPSK(chip, 0, true)
	case ModOQPSK:
		r.SetOQPSK(p.ChipRate, p.RateMode, false)
	case ModFSK:
		r.SetFSK(p.FourLevel, p.SymbolRate, p.Preamble)
	case ModOFDM:
		r.SetOFDM(p.Option-1, p.MCS)
	}
	r.SetEDDuration(trx.EDDuration(p.CCADuration()))
}

// applyPHY switches the radio to p. The synthesizer and baseband are only
// reconfigured outside RX and TX.
func (tr *transceiver) applyPHY(p PHY) {
	tr.radio.SetCommand(trx.CmdTrxOff)
	tr.trxState = trx.StateTrxOff
	tr.pib.PHY = p
	tr.writePHY(p)
	tr.setChannel()
	tr.setDefaultState()
}
