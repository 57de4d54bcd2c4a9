package config

import (
	"fmt"
	"time"

	"github.com/herlein/gotal/pkg/trx"
)

// Snapshot holds the register configuration of one AT86RF215
type Snapshot struct {
	Device    string          `json:"device" yaml:"device"`
	PartNum   uint8           `json:"part_num" yaml:"part_num"`
	Version   uint8           `json:"version" yaml:"version"`
	Timestamp time.Time       `json:"timestamp" yaml:"timestamp"`
	Registers trx.RegisterMap `json:"registers" yaml:"registers"`
}

// DumpFromDevice reads all configuration registers. Active transceivers are
// parked in TRXOFF during the read and returned to their state afterwards.
func DumpFromDevice(regs trx.Registers, device string) (*Snapshot, error) {
	restore, err := park(regs)
	if err != nil {
		return nil, err
	}

	registerMap, err := trx.ReadAllRegisters(regs)
	if rerr := restore(); err == nil {
		err = rerr
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read registers: %w", err)
	}

	return &Snapshot{
		Device:    device,
		PartNum:   registerMap.PN,
		Version:   registerMap.VN,
		Timestamp: time.Now(),
		Registers: *registerMap,
	}, nil
}

// ApplyToDevice writes a snapshot to a device. The snapshot must come from
// the same part.
func ApplyToDevice(regs trx.Registers, snap *Snapshot) error {
	pn, _, err := trx.PartNumber(regs)
	if err != nil {
		return fmt.Errorf("failed to read part number: %w", err)
	}
	if snap.PartNum != 0 && snap.PartNum != pn {
		return fmt.Errorf("snapshot is for part 0x%02X, device is 0x%02X", snap.PartNum, pn)
	}

	restore, err := park(regs)
	if err != nil {
		return err
	}

	// The frequency registers only take effect outside RX and TX
	if err := trx.WriteAllRegisters(regs, &snap.Registers); err != nil {
		_ = restore()
		return fmt.Errorf("failed to write registers: %w", err)
	}

	return restore()
}

// park puts every listening or transmitting transceiver in TRXOFF and
// returns a function that brings them back
func park(regs trx.Registers) (func() error, error) {
	type parked struct {
		radio *trx.Radio
		state trx.State
	}
	var list []parked

	for i := 0; i < 2; i++ {
		r := trx.NewRadio(regs, i)
		st := r.State()
		if err := r.Err(); err != nil {
			return nil, fmt.Errorf("failed to get radio state: %w", err)
		}
		switch st {
		case trx.StateRx, trx.StateTxPrep, trx.StateTx:
			r.SetCommand(trx.CmdTrxOff)
			if err := r.Err(); err != nil {
				return nil, fmt.Errorf("failed to set TRXOFF: %w", err)
			}
			list = append(list, parked{r, st})
		}
	}

	return func() error {
		for _, p := range list {
			cmd := trx.CmdRx
			if p.state != trx.StateRx {
				cmd = trx.CmdTxPrep
			}
			p.radio.SetCommand(cmd)
			if err := p.radio.Err(); err != nil {
				return fmt.Errorf("failed to restore %s: %w", p.state, err)
			}
		}
		return nil
	}, nil
}

// FrequencyMHz returns the channel centre frequency of transceiver index
// computed from the channel scheme registers
func (s *Snapshot) FrequencyMHz(index int) float64 {
	rr := s.radio(index)
	ccf0 := uint32(rr.CCF0H)<<8 | uint32(rr.CCF0L)
	cn := uint32(rr.CNM&0x01)<<8 | uint32(rr.CNL)
	khz := float64(ccf0+cn*uint32(rr.CS)) * 25
	if index == 1 {
		khz += 1500000
	}
	return khz / 1000
}

// Channel returns the raw channel number of transceiver index
func (s *Snapshot) Channel(index int) uint16 {
	rr := s.radio(index)
	return uint16(rr.CNM&0x01)<<8 | uint16(rr.CNL)
}

// StateString returns the recorded state of transceiver index
func (s *Snapshot) StateString(index int) string {
	return trx.State(s.radio(index).STATE & 0x07).String()
}

// PANID returns the frame filter 0 PAN ID of transceiver index
func (s *Snapshot) PANID(index int) uint16 {
	rr := s.radio(index)
	return uint16(rr.MACPID1F0)<<8 | uint16(rr.MACPID0F0)
}

// ShortAddress returns the frame filter 0 short address of transceiver index
func (s *Snapshot) ShortAddress(index int) uint16 {
	rr := s.radio(index)
	return uint16(rr.MACSHA1F0)<<8 | uint16(rr.MACSHA0F0)
}

func (s *Snapshot) radio(index int) *trx.RadioRegisters {
	if index == 0 {
		return &s.Registers.RF09
	}
	return &s.Registers.RF24
}

// Verify compares the settings that survive a write and read back. Status
// and volatile registers are skipped. It returns one line per mismatch.
func Verify(expected, actual *Snapshot) []string {
	var errors []string
	for i, name := range []string{"RF09", "RF24"} {
		e, a := expected.radio(i), actual.radio(i)
		check := func(reg string, want, got uint8) {
			if want != got {
				errors = append(errors, fmt.Sprintf("%s %s mismatch: expected 0x%02X, got 0x%02X", name, reg, want, got))
			}
		}
		check("CS", e.CS, a.CS)
		check("CCF0L", e.CCF0L, a.CCF0L)
		check("CCF0H", e.CCF0H, a.CCF0H)
		check("CNL", e.CNL, a.CNL)
		check("PAC", e.PAC, a.PAC)
		check("AFC0", e.AFC0, a.AFC0)
		check("AFFTM", e.AFFTM, a.AFFTM)
		check("AMEDT", e.AMEDT, a.AMEDT)

		if expected.PANID(i) != actual.PANID(i) {
			errors = append(errors, fmt.Sprintf("%s PAN ID mismatch: expected 0x%04X, got 0x%04X",
				name, expected.PANID(i), actual.PANID(i)))
		}
		if expected.ShortAddress(i) != actual.ShortAddress(i) {
			errors = append(errors, fmt.Sprintf("%s short address mismatch: expected 0x%04X, got 0x%04X",
				name, expected.ShortAddress(i), actual.ShortAddress(i)))
		}
	}
	return errors
}
