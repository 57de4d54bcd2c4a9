package tal

import (
	"encoding/binary"
	"fmt"
	"math/bits"
	"time"

	"github.com/herlein/gotal/pkg/frame"
	"github.com/herlein/gotal/pkg/trx"
)

// Mode switch PHR fields (IEEE 802.15.4g)
const (
	msBit       = 1 << 0
	msFEC       = 1 << 3
	msPage      = 1 << 4
	msMod1      = 1 << 5
	msMod0      = 1 << 6
	msMD3       = 1 << 7
	msMD2       = 1 << 8
	msMD1       = 1 << 9
	msMD0       = 1 << 10
	msDataMask  = 0x07FF
	msCheckMask = 0x7800
	msParity    = 1 << 15
)

// Over the air modulation codes
const (
	msModFSK   = 0
	msModOFDM  = 1
	msModOQPSK = 2
)

// FSK operating modes 1..3 of the 915 MHz and 2.4 GHz bands
var fskOpModes = [...]PHY{
	{Modulation: ModFSK, SymbolRate: FSKRate50, Preamble: 8},
	{Modulation: ModFSK, SymbolRate: FSKRate150, Preamble: 8},
	{Modulation: ModFSK, SymbolRate: FSKRate200, Preamble: 8},
}

// bch15 is the BCH(15,11) remainder of the 11 data bits, g(x) = x^4 + x + 1
func bch15(data uint16) uint16 {
	r := uint32(data&msDataMask) << 4
	for i := 14; i >= 4; i-- {
		if r&(1<<i) != 0 {
			r ^= 0x13 << (i - 4)
		}
	}
	return uint16(r)
}

// ModeSwitchPHR builds the PHR that announces p as the mode of the next frame
func ModeSwitchPHR(p PHY, fec bool) (uint16, error) {
	var mod, mode uint16
	switch p.Modulation {
	case ModFSK:
		mod = msModFSK
		op := -1
		for i, m := range fskOpModes {
			if m.SymbolRate == p.SymbolRate && !p.FourLevel {
				op = i + 1
				break
			}
		}
		if op < 0 {
			return 0, fmt.Errorf("%w: %s", ErrModeUnsupported, p)
		}
		mode = uint16(op)
	case ModOFDM:
		if p.Option < 1 || p.Option > 4 {
			return 0, fmt.Errorf("%w: %s", ErrModeUnsupported, p)
		}
		mod, mode = msModOFDM, uint16(p.Option-1)
	case ModOQPSK:
		mod = msModOQPSK
	default:
		return 0, fmt.Errorf("%w: %s", ErrModeUnsupported, p)
	}

	phr := uint16(msBit)
	if fec {
		phr |= msFEC
	}
	if mod&1 != 0 {
		phr |= msMod0
	}
	if mod&2 != 0 {
		phr |= msMod1
	}
	for bit, f := range [...]uint16{msMD0, msMD1, msMD2, msMD3} {
		if mode&(1<<bit) != 0 {
			phr |= f
		}
	}
	phr |= bch15(phr) << 11
	if bits.OnesCount16(phr)%2 != 0 {
		phr |= msParity
	}
	return phr, nil
}

// ParseModeSwitchPHR decodes the new mode announced by phr. The FSK preamble,
// OFDM MCS and O-QPSK rate mode the PHR does not carry are kept from cur when
// it runs the same modulation. The MR-O-QPSK chip rate follows the band of
// transceiver id.
func ParseModeSwitchPHR(id TrxID, phr uint16, cur PHY) (PHY, error) {
	if phr&msBit == 0 {
		return PHY{}, ErrNotModeSwitch
	}
	if bits.OnesCount16(phr)%2 != 0 || phr&msCheckMask != bch15(phr)<<11 {
		return PHY{}, ErrModeSwitchCheck
	}
	if phr&msPage != 0 {
		return PHY{}, fmt.Errorf("%w: generic PHY page", ErrModeUnsupported)
	}

	var mod uint16
	if phr&msMod0 != 0 {
		mod |= 1
	}
	if phr&msMod1 != 0 {
		mod |= 2
	}
	var mode int
	for bit, f := range [...]uint16{msMD0, msMD1, msMD2} {
		if phr&f != 0 {
			mode |= 1 << bit
		}
	}

	var p PHY
	switch mod {
	case msModFSK:
		if mode < 1 || mode > len(fskOpModes) {
			return PHY{}, fmt.Errorf("%w: FSK operating mode %d", ErrModeUnsupported, mode)
		}
		p = fskOpModes[mode-1]
		if cur.Modulation == ModFSK {
			p.Preamble = cur.Preamble
		}
	case msModOFDM:
		p = PHY{Modulation: ModOFDM, Option: uint8(mode + 1)}
		if cur.Modulation == ModOFDM {
			p.MCS = cur.MCS
		}
	case msModOQPSK:
		p = PHY{Modulation: ModOQPSK, ChipRate: ChipRate2000}
		if id == RF09 {
			p.ChipRate = ChipRate1000
		}
		if cur.Modulation == ModOQPSK {
			p.RateMode = cur.RateMode
		}
	default:
		return PHY{}, fmt.Errorf("%w: modulation %d", ErrModeUnsupported, mod)
	}
	if err := p.Validate(); err != nil {
		return PHY{}, fmt.Errorf("%w: %v", ErrModeUnsupported, err)
	}
	return p, nil
}

// SwitchPHY reconfigures transceiver id for p and keeps the current PHY for
// RestorePHY.
func (t *TAL) SwitchPHY(id TrxID, p PHY) Status {
	tr := t.transceiver(id)
	if tr == nil {
		return InvalidParameter
	}
	if tr.state == StateSleep {
		return TrxAsleep
	}
	if tr.state != StateIdle || tr.ackTransmitting {
		return Busy
	}
	if err := p.Validate(); err != nil {
		tr.log.Debugw("rejected PHY", "phy", p, "error", err)
		return InvalidParameter
	}

	prev := tr.pib.PHY
	tr.prevPHY = &prev
	tr.applyPHY(p)
	if err := tr.radio.Err(); err != nil {
		tr.radio.ClearErr()
		tr.log.Errorw("PHY switch failed", "phy", p, "error", err)
		return Failure
	}
	tr.log.Infow("PHY switched", "from", prev, "to", p)
	return Success
}

// RestorePHY returns transceiver id to the PHY active before the last
// SwitchPHY.
func (t *TAL) RestorePHY(id TrxID) Status {
	tr := t.transceiver(id)
	if tr == nil {
		return InvalidParameter
	}
	if tr.state == StateSleep {
		return TrxAsleep
	}
	if tr.state != StateIdle || tr.ackTransmitting {
		return Busy
	}
	if tr.prevPHY == nil {
		return Failure
	}

	p := *tr.prevPHY
	tr.prevPHY = nil
	tr.applyPHY(p)
	if err := tr.radio.Err(); err != nil {
		tr.radio.ClearErr()
		tr.log.Errorw("PHY restore failed", "phy", p, "error", err)
		return Failure
	}
	tr.log.Infow("PHY restored", "phy", p)
	return Success
}

// TxFrameModeSwitch sends a mode switch PPDU in the common signaling mode
// (2-FSK, 50 kbit/s), then f in PHY p, and returns to the current PHY
// afterwards. There are no retries. The outcome is reported through
// Callbacks.TxDone like for TxFrame.
func (t *TAL) TxFrameModeSwitch(id TrxID, f *Frame, p PHY) Status {
	tr := t.transceiver(id)
	if tr == nil {
		return InvalidParameter
	}
	if st := tr.canSend(f); st != Success {
		return st
	}
	if err := p.Validate(); err != nil {
		return InvalidParameter
	}
	phr, err := ModeSwitchPHR(p, false)
	if err != nil {
		tr.log.Debugw("no mode switch PHR", "phy", p, "error", err)
		return InvalidParameter
	}

	tr.txFrame = f
	tr.csmaMode = NoCSMANoIFS
	tr.retries = 0
	tr.maxRetries = 0
	tr.ackRequested = frame.Control(f.MPDU).AckRequest()
	tr.state = StateTx
	tr.msTarget = p
	tr.msPrev = tr.pib.PHY
	tr.msActive = true

	tr.log.Debugw("tx mode switch", "phy", p, "phr", fmt.Sprintf("0x%04X", phr))
	tr.sendModeSwitchPPDU(phr)
	return Success
}

// sendModeSwitchPPDU transmits phr as a raw two octet PPDU in the common
// signaling mode
func (tr *transceiver) sendModeSwitchPPDU(phr uint16) {
	r := tr.radio
	tr.command(trx.CmdTrxOff, trx.StateTrxOff)
	tr.setAutoMode(trx.AutoMode{})
	tr.writePHY(csmPHY)
	r.SetTxAutoFCS(false)

	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], phr)
	r.WriteTxFrame(b[:], 0)
	tr.command(trx.CmdTxPrep, trx.StateTxPrep)
	tr.command(trx.CmdTx, trx.StateTx)
	tr.txState = TxModeSwitch

	if err := r.Err(); err != nil {
		r.ClearErr()
		tr.log.Errorw("mode switch PPDU", "error", err)
		tr.txDone(Failure)
	}
}

// modeSwitchSent moves to the new PHY once the PPDU is out and sends the
// frame after the settling time
func (tr *transceiver) modeSwitchSent() {
	tr.command(trx.CmdTxPrep, trx.StateTxPrep)
	tr.pib.PHY = tr.msTarget
	// writePHY turns the transmit FCS back on
	tr.writePHY(tr.msTarget)
	tr.txState = TxWaitNewMode

	settle := tr.t.cfg.ModeSwitchSettle - (tr.t.plat.Now() - time.Duration(tr.frameEnd.Load()))
	if settle <= 0 {
		tr.transmitFrame(false)
		return
	}
	if err := tr.startTimer(timerTx, settle, tr.sendNewModeFrame); err != nil {
		tr.log.Errorw("mode switch timer", "error", err)
		tr.txDone(Failure)
	}
}

func (tr *transceiver) sendNewModeFrame() {
	if tr.txState != TxWaitNewMode {
		return
	}
	tr.transmitFrame(false)
}

// endModeSwitch puts the PHY from before the mode switch back
func (tr *transceiver) endModeSwitch() {
	tr.msActive = false
	p := tr.msPrev
	tr.command(trx.CmdTrxOff, trx.StateTrxOff)
	tr.pib.PHY = p
	tr.writePHY(p)
}
