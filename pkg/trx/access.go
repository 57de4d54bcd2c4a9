// Package trx describes the AT86RF215 register interface and wraps it in
// named accessors, so the protocol code never deals with raw masks.
package trx

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Registers is raw access to the transceiver address space. Burst reads and
// writes auto-increment the address.
type Registers interface {
	ReadReg(addr uint16) (uint8, error)
	WriteReg(addr uint16, value uint8) error
	ReadRegs(addr uint16, buf []byte) error
	WriteRegs(addr uint16, data []byte) error
}

// IRQSource is implemented by backends that can signal the IRQ line
type IRQSource interface {
	SetIRQHandler(fn func())
}

// ReadIRQStatus reads RF09, RF24, BBC0 and BBC1 IRQ status in one burst.
// The status registers clear on read.
func ReadIRQStatus(regs Registers) ([irqStatusLen]uint8, error) {
	var s [irqStatusLen]uint8
	if err := regs.ReadRegs(RegRF09IRQS, s[:]); err != nil {
		return s, fmt.Errorf("failed to read IRQ status: %w", err)
	}
	return s, nil
}

// ResetChip issues a chip reset. Both transceivers come back in TRXOFF and
// raise the wakeup interrupt.
func ResetChip(regs Registers) error {
	return regs.WriteReg(RegRFRST, RSTCmdReset)
}

// PartNumber returns RF_PN and RF_VN
func PartNumber(regs Registers) (pn, vn uint8, err error) {
	var b [2]uint8
	if err := regs.ReadRegs(RegRFPN, b[:]); err != nil {
		return 0, 0, fmt.Errorf("failed to read part number: %w", err)
	}
	return b[0], b[1], nil
}

// Radio is one transceiver (RF front end plus baseband core). Accessors do
// not return errors: the first register error is kept and reported by Err,
// and reads after a failure return zero.
type Radio struct {
	regs  Registers
	index int
	rf    uint16
	bb    uint16
	fbRX  uint16
	fbTX  uint16
	err   error
}

// NewRadio returns the accessor for transceiver index (0 sub-GHz, 1 2.4 GHz)
func NewRadio(regs Registers, index int) *Radio {
	return &Radio{
		regs:  regs,
		index: index,
		rf:    uint16(index) * RFBlockOffset,
		bb:    uint16(index) * BBBlockOffset,
		fbRX:  RegBBC0FBRXS + uint16(index)*FrameBufferOffset,
		fbTX:  RegBBC0FBTXS + uint16(index)*FrameBufferOffset,
	}
}

// Index returns the transceiver index
func (r *Radio) Index() int {
	return r.index
}

// Err returns the first register access error since the last ClearErr
func (r *Radio) Err() error {
	return r.err
}

// ClearErr forgets a recorded error
func (r *Radio) ClearErr() {
	r.err = nil
}

func (r *Radio) fail(op string, addr uint16, err error) {
	if r.err == nil {
		r.err = fmt.Errorf("trx%d: %s 0x%04X: %w", r.index, op, addr, err)
	}
}

func (r *Radio) read(addr uint16) uint8 {
	v, err := r.regs.ReadReg(addr)
	if err != nil {
		r.fail("read", addr, err)
		return 0
	}
	return v
}

func (r *Radio) write(addr uint16, v uint8) {
	if err := r.regs.WriteReg(addr, v); err != nil {
		r.fail("write", addr, err)
	}
}

func (r *Radio) readBlock(addr uint16, buf []byte) {
	if err := r.regs.ReadRegs(addr, buf); err != nil {
		r.fail("read", addr, err)
		for i := range buf {
			buf[i] = 0
		}
	}
}

func (r *Radio) writeBlock(addr uint16, data []byte) {
	if err := r.regs.WriteRegs(addr, data); err != nil {
		r.fail("write", addr, err)
	}
}

// update is a read-modify-write of the bits in mask
func (r *Radio) update(addr uint16, mask, value uint8) {
	old := r.read(addr)
	r.write(addr, old&^mask|value&mask)
}

func (r *Radio) setBit(addr uint16, bit uint8, on bool) {
	v := uint8(0)
	if on {
		v = bit
	}
	r.update(addr, bit, v)
}

// SetCommand writes RFn_CMD
func (r *Radio) SetCommand(c Command) {
	r.write(r.rf+RegRF09CMD, uint8(c))
}

// State reads RFn_STATE
func (r *Radio) State() State {
	return State(r.read(r.rf+RegRF09STATE) & 0x07)
}

// SetIRQMasks writes the RF and baseband interrupt masks
func (r *Radio) SetIRQMasks(rf, bb uint8) {
	r.write(r.rf+RegRF09IRQM, rf)
	r.write(r.bb+RegBBC0IRQM, bb)
}

// IRQMasks reads the RF and baseband interrupt masks
func (r *Radio) IRQMasks() (rf, bb uint8) {
	return r.read(r.rf + RegRF09IRQM), r.read(r.bb + RegBBC0IRQM)
}

// SetBaseband enables or disables the baseband core (PC.BBEN)
func (r *Radio) SetBaseband(on bool) {
	r.setBit(r.bb+RegBBC0PC, PCBBEN, on)
}

// ConfigurePHY sets up the PHY control register: PHY type pt, baseband
// enabled, FCS length, automatic FCS on transmit and FCS filtering on receive.
func (r *Radio) ConfigurePHY(pt uint8, fcs16 bool) {
	v := pt&PCPTMask | PCBBEN | PCTXAFCS | PCFCSFE
	if fcs16 {
		v |= PCFCST
	}
	r.write(r.bb+RegBBC0PC, v)
}

// SetTxAutoFCS turns the FCS the baseband appends on transmit on or off.
// Raw PPDUs such as the mode switch PHR go out without it.
func (r *Radio) SetTxAutoFCS(on bool) {
	r.setBit(r.bb+RegBBC0PC, PCTXAFCS, on)
}

// PHYType returns the PHY type field of BBCn_PC
func (r *Radio) PHYType() uint8 {
	return r.read(r.bb+RegBBC0PC) & PCPTMask
}

// SetOQPSK selects the O-QPSK chip rate and PSDU rate mode. legacy selects
// the 802.15.4-2006 250 kbit/s PHY, which ignores both.
func (r *Radio) SetOQPSK(chipRate, rateMode uint8, legacy bool) {
	r.update(r.bb+RegBBC0OQPSKC0, OQPSKC0FCHIPMask, chipRate)
	v := rateMode << OQPSKPHRTXMODShift
	if legacy {
		v |= OQPSKPHRTXLEG
	}
	r.write(r.bb+RegBBC0OQPSKPHRTX, v)
}

// SetFSK configures the modulation order, symbol rate index and preamble
// length in octets.
func (r *Radio) SetFSK(fourLevel bool, symRate uint8, preamble uint16) {
	r.setBit(r.bb+RegBBC0FSKC0, FSKC0MORD4, fourLevel)
	c1 := symRate & FSKC1SRATEMask
	if preamble&0x100 != 0 {
		c1 |= FSKC1FSKPLH
	}
	r.update(r.bb+RegBBC0FSKC1, FSKC1SRATEMask|FSKC1FSKPLH, c1)
	r.write(r.bb+RegBBC0FSKPLL, uint8(preamble))
}

// SetOFDM selects the OFDM option (0 for option 1) and the transmit MCS
func (r *Radio) SetOFDM(option, mcs uint8) {
	r.update(r.bb+RegBBC0OFDMC, OFDMCOPTMask, option)
	r.write(r.bb+RegBBC0OFDMPHRTX, mcs&OFDMPHRTXMCSMask)
}

// RxFCS16 reports whether the last received PHR announced a 16-bit FCS
func (r *Radio) RxFCS16() bool {
	return r.read(r.bb+RegBBC0FSKPHRRX)&FSKPHRRXFCST != 0
}

// WriteTxFrame downloads mpdu into the transmit frame buffer and sets the
// transmit length to include the FCS the hardware appends.
func (r *Radio) WriteTxFrame(mpdu []byte, fcsLen int) {
	var l [2]byte
	binary.LittleEndian.PutUint16(l[:], uint16(len(mpdu)+fcsLen))
	r.writeBlock(r.bb+RegBBC0TXFLL, l[:])
	r.writeBlock(r.fbTX, mpdu)
}

// RxFrameLen returns the length of the last received PSDU including FCS
func (r *Radio) RxFrameLen() int {
	var l [2]byte
	r.readBlock(r.bb+RegBBC0RXFLL, l[:])
	return int(binary.LittleEndian.Uint16(l[:]) & 0x07FF)
}

// ReadRxFrame uploads len(buf) bytes from the receive frame buffer
func (r *Radio) ReadRxFrame(buf []byte) {
	r.readBlock(r.fbRX, buf)
}

// TxUnderrun reports a transmit underrun (PS.TXUR)
func (r *Radio) TxUnderrun() bool {
	return r.read(r.bb+RegBBC0PS)&PSTXUR != 0
}

// AutoMode is the auto mode configuration in BBCn_AMCS
type AutoMode struct {
	TX2RX bool // switch to RX after transmit
	CCATX bool // transmit only after an idle CCA
	AACK  bool // acknowledge received frames automatically
}

// SetAutoMode writes BBCn_AMCS
func (r *Radio) SetAutoMode(m AutoMode) {
	var v uint8
	if m.TX2RX {
		v |= AMCSTX2RX
	}
	if m.CCATX {
		v |= AMCSCCATX
	}
	if m.AACK {
		v |= AMCSAACK
	}
	r.write(r.bb+RegBBC0AMCS, v)
}

// AutoModeSettings reads back BBCn_AMCS
func (r *Radio) AutoModeSettings() AutoMode {
	v := r.read(r.bb + RegBBC0AMCS)
	return AutoMode{
		TX2RX: v&AMCSTX2RX != 0,
		CCATX: v&AMCSCCATX != 0,
		AACK:  v&AMCSAACK != 0,
	}
}

// CCABusy reports the result of the last CCA-gated transmit (AMCS.CCAED)
func (r *Radio) CCABusy() bool {
	return r.read(r.bb+RegBBC0AMCS)&AMCSCCAED != 0
}

// SetCCAThreshold writes the energy threshold for CCA in dBm
func (r *Radio) SetCCAThreshold(dBm int8) {
	r.write(r.bb+RegBBC0AMEDT, uint8(dBm))
}

// SetEDMode writes RFn_EDC.EDM. Writing EDSingle starts a measurement.
func (r *Radio) SetEDMode(m EDMode) {
	r.update(r.rf+RegRF09EDC, EDCEDMMask, uint8(m))
}

// SetEDDuration writes the raw RFn_EDD value
func (r *Radio) SetEDDuration(v uint8) {
	r.write(r.rf+RegRF09EDD, v)
}

// EDDuration encodes an energy detection duration as RFn_EDD: a 6-bit
// factor over the smallest time base (2, 8, 32 or 128 us) that fits.
func EDDuration(d time.Duration) uint8 {
	bases := [...]time.Duration{2 * time.Microsecond, 8 * time.Microsecond, 32 * time.Microsecond, 128 * time.Microsecond}
	for dtb, base := range bases {
		df := (d + base - 1) / base
		if df <= 0x3F || dtb == len(bases)-1 {
			if df > 0x3F {
				df = 0x3F
			}
			if df < 1 {
				df = 1
			}
			return uint8(df)<<2 | uint8(dtb)
		}
	}
	return 0
}

// EDValue reads the last energy measurement in dBm
func (r *Radio) EDValue() int8 {
	return int8(r.read(r.rf + RegRF09EDV))
}

// AGCFrozen reports whether the AGC is frozen, which happens while a frame
// is being received.
func (r *Radio) AGCFrozen() bool {
	return r.read(r.rf+RegRF09AGCC)&AGCCFRZS != 0
}

// RandomValue reads the hardware random number register. The receiver must
// be on for the value to be random.
func (r *Radio) RandomValue() uint8 {
	return r.read(r.rf + RegRF09RNDV)
}

// SetPANID writes the PAN ID of frame filter 0
func (r *Radio) SetPANID(id uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], id)
	r.writeBlock(r.bb+RegBBC0MACPID0F0, b[:])
}

// SetShortAddress writes the short address of frame filter 0
func (r *Radio) SetShortAddress(a uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], a)
	r.writeBlock(r.bb+RegBBC0MACSHA0F0, b[:])
}

// SetIEEEAddress writes the extended address
func (r *Radio) SetIEEEAddress(a uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], a)
	r.writeBlock(r.bb+RegBBC0MACEA0, b[:])
}

// SetFrameFilter enables frame filter 0 and optionally promiscuous mode
func (r *Radio) SetFrameFilter(enable, promiscuous bool) {
	var v uint8
	if enable {
		v |= AFC0AFEN0
	}
	if promiscuous {
		v |= AFC0PM
	}
	r.write(r.bb+RegBBC0AFC0, v)
}

// SetPANCoordinator marks the node as PAN coordinator for frame filter 0
func (r *Radio) SetPANCoordinator(on bool) {
	r.setBit(r.bb+RegBBC0AFC1, AFC1PANC0, on)
}

// SetFrameTypeFilter sets the accepted frame types, one bit per type
func (r *Radio) SetFrameTypeFilter(mask uint8) {
	r.write(r.bb+RegBBC0AFFTM, mask)
}

// AddressMatched reports whether the last frame matched filter 0 by address
func (r *Radio) AddressMatched() bool {
	return r.read(r.bb+RegBBC0AFS)&AFSAM0 != 0
}

// SetChannelScheme writes the channel centre frequency and spacing in 25 kHz units
func (r *Radio) SetChannelScheme(ccf0 uint16, spacing uint8) {
	r.write(r.rf+RegRF09CS, spacing)
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], ccf0)
	r.writeBlock(r.rf+RegRF09CCF0L, b[:])
}

// SetChannel writes the channel number. The new frequency takes effect when
// CNM is written.
func (r *Radio) SetChannel(ch uint16) {
	r.write(r.rf+RegRF09CNL, uint8(ch))
	r.update(r.rf+RegRF09CNM, CNMCNHMask, uint8(ch>>8))
}

// Channel reads back the channel number
func (r *Radio) Channel() uint16 {
	return uint16(r.read(r.rf+RegRF09CNM)&CNMCNHMask)<<8 | uint16(r.read(r.rf+RegRF09CNL))
}

// SetTxPower writes the raw PAC.TXPWR value with the default PA current
func (r *Radio) SetTxPower(v uint8) {
	r.write(r.rf+RegRF09PAC, DefaultPACurrent|v&PACTXPWRMask)
}

// LOLeakage reads the transmitter LO leakage calibration values
func (r *Radio) LOLeakage() (i, q uint8) {
	return r.read(r.rf+RegRF09TXCI) & TXCMask, r.read(r.rf+RegRF09TXCQ) & TXCMask
}

// SetLOLeakage writes the transmitter LO leakage calibration values
func (r *Radio) SetLOLeakage(i, q uint8) {
	r.write(r.rf+RegRF09TXCI, i&TXCMask)
	r.write(r.rf+RegRF09TXCQ, q&TXCMask)
}

// ReadAllRegisters reads the configuration of the chip and both transceivers
func ReadAllRegisters(regs Registers) (*RegisterMap, error) {
	reg := &RegisterMap{}

	chip := make([]byte, 9)
	if err := regs.ReadRegs(RegRFRST+1, chip); err != nil {
		return nil, fmt.Errorf("failed to read chip registers: %w", err)
	}
	reg.CFG = chip[0]
	reg.CLKO = chip[1]
	reg.XOC = chip[3]
	reg.PN = chip[7]
	reg.VN = chip[8]

	for i, rr := range []*RadioRegisters{&reg.RF09, &reg.RF24} {
		if err := readRadioRegisters(regs, i, rr); err != nil {
			return nil, err
		}
	}

	return reg, nil
}

func readRadioRegisters(regs Registers, index int, rr *RadioRegisters) error {
	rf := uint16(index) * RFBlockOffset
	bb := uint16(index) * BBBlockOffset

	// RF09_IRQM .. RF09_PADFE
	block1 := make([]byte, RegRF09PADFE-RegRF09IRQM+1)
	if err := regs.ReadRegs(rf+RegRF09IRQM, block1); err != nil {
		return fmt.Errorf("failed to read RF block %d: %w", index, err)
	}
	rr.IRQM = block1[0x00]
	rr.STATE = block1[0x02]
	rr.CS = block1[0x04]
	rr.CCF0L = block1[0x05]
	rr.CCF0H = block1[0x06]
	rr.CNL = block1[0x07]
	rr.CNM = block1[0x08]
	rr.RXBWC = block1[0x09]
	rr.RXDFE = block1[0x0A]
	rr.AGCC = block1[0x0B]
	rr.EDC = block1[0x0E]
	rr.EDD = block1[0x0F]
	rr.TXCUTC = block1[0x12]
	rr.TXDFE = block1[0x13]
	rr.PAC = block1[0x14]
	rr.PADFE = block1[0x16]

	block2 := make([]byte, 2)
	if err := regs.ReadRegs(rf+RegRF09TXCI, block2); err != nil {
		return fmt.Errorf("failed to read TXCI/TXCQ %d: %w", index, err)
	}
	rr.TXCI = block2[0]
	rr.TXCQ = block2[1]

	block3 := make([]byte, 2)
	if err := regs.ReadRegs(bb+RegBBC0IRQM, block3); err != nil {
		return fmt.Errorf("failed to read BBC block %d: %w", index, err)
	}
	rr.BBIRQM = block3[0]
	rr.PC = block3[1]

	// AFC0 .. MACSHA1F0
	block4 := make([]byte, RegBBC0MACSHA1F0-RegBBC0AFC0+1)
	if err := regs.ReadRegs(bb+RegBBC0AFC0, block4); err != nil {
		return fmt.Errorf("failed to read frame filter %d: %w", index, err)
	}
	rr.AFC0 = block4[0]
	rr.AFC1 = block4[1]
	rr.AFFTM = block4[2]
	rr.AFFVM = block4[3]
	copy(rr.MACEA[:], block4[5:13])
	rr.MACPID0F0 = block4[13]
	rr.MACPID1F0 = block4[14]
	rr.MACSHA0F0 = block4[15]
	rr.MACSHA1F0 = block4[16]

	block5 := make([]byte, RegBBC0AMAACKTH-RegBBC0AMCS+1)
	if err := regs.ReadRegs(bb+RegBBC0AMCS, block5); err != nil {
		return fmt.Errorf("failed to read auto mode %d: %w", index, err)
	}
	rr.AMCS = block5[0]
	rr.AMEDT = block5[1]
	rr.AMAACKPD = block5[2]
	rr.AMAACKTL = block5[3]
	rr.AMAACKTH = block5[4]

	return nil
}

// WriteAllRegisters writes all writable configuration registers. State,
// command and identification registers are skipped.
func WriteAllRegisters(regs Registers, reg *RegisterMap) error {
	chip := []byte{reg.CFG, reg.CLKO}
	if err := regs.WriteRegs(RegRFCFG, chip); err != nil {
		return fmt.Errorf("failed to write chip registers: %w", err)
	}
	if err := regs.WriteReg(RegRFXOC, reg.XOC); err != nil {
		return fmt.Errorf("failed to write XOC: %w", err)
	}

	for i, rr := range []*RadioRegisters{&reg.RF09, &reg.RF24} {
		if err := writeRadioRegisters(regs, i, rr); err != nil {
			return err
		}
	}
	return nil
}

func writeRadioRegisters(regs Registers, index int, rr *RadioRegisters) error {
	rf := uint16(index) * RFBlockOffset
	bb := uint16(index) * BBBlockOffset

	writes := []struct {
		addr uint16
		data []byte
	}{
		{rf + RegRF09IRQM, []byte{rr.IRQM}},
		{rf + RegRF09CS, []byte{rr.CS, rr.CCF0L, rr.CCF0H, rr.CNL, rr.CNM, rr.RXBWC, rr.RXDFE, rr.AGCC}},
		{rf + RegRF09EDC, []byte{rr.EDC, rr.EDD}},
		{rf + RegRF09TXCUTC, []byte{rr.TXCUTC, rr.TXDFE, rr.PAC}},
		{rf + RegRF09PADFE, []byte{rr.PADFE}},
		{rf + RegRF09TXCI, []byte{rr.TXCI, rr.TXCQ}},
		{bb + RegBBC0IRQM, []byte{rr.BBIRQM, rr.PC}},
		{bb + RegBBC0AFC0, []byte{rr.AFC0, rr.AFC1, rr.AFFTM, rr.AFFVM}},
		{bb + RegBBC0MACEA0, append(rr.MACEA[:], rr.MACPID0F0, rr.MACPID1F0, rr.MACSHA0F0, rr.MACSHA1F0)},
		{bb + RegBBC0AMCS, []byte{rr.AMCS, rr.AMEDT, rr.AMAACKPD, rr.AMAACKTL, rr.AMAACKTH}},
	}

	for _, w := range writes {
		if err := regs.WriteRegs(w.addr, w.data); err != nil {
			return fmt.Errorf("failed to write 0x%04X (trx %d): %w", w.addr, index, err)
		}
	}
	return nil
}
