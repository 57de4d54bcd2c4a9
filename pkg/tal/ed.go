package tal

import (
	"time"

	"github.com/herlein/gotal/pkg/trx"
)

// EDStart runs one energy detection measurement over d on transceiver id.
// The result arrives through Callbacks.EDEnd.
func (t *TAL) EDStart(id TrxID, d time.Duration) Status {
	tr := t.transceiver(id)
	if tr == nil || d <= 0 {
		return InvalidParameter
	}
	if tr.state == StateSleep {
		return TrxAsleep
	}
	if tr.state != StateIdle || tr.ackTransmitting {
		return Busy
	}

	r := tr.radio
	tr.state = StateEDScan
	r.SetIRQMasks(tr.rfMask|trx.IRQEDC, bbIRQMask)
	r.SetBaseband(false)
	r.SetEDDuration(trx.EDDuration(d))
	tr.command(trx.CmdRx, trx.StateRx)
	r.SetEDMode(trx.EDSingle)

	if err := r.Err(); err != nil {
		r.ClearErr()
		tr.log.Errorw("ED scan start failed", "error", err)
		tr.endEDScan()
		return Failure
	}
	tr.log.Debugw("ED scan", "duration", d)
	return Success
}

// handleEDEnd processes EDC. Measurements made for CCA are ignored.
func (tr *transceiver) handleEDEnd() {
	if tr.state != StateEDScan {
		return
	}
	level := scaleED(tr.radio.EDValue())
	tr.endEDScan()
	if cb := tr.t.cfg.Callbacks.EDEnd; cb != nil {
		cb(tr.id, level)
	}
}

func (tr *transceiver) endEDScan() {
	r := tr.radio
	r.SetEDMode(trx.EDAuto)
	r.SetEDDuration(trx.EDDuration(tr.pib.PHY.CCADuration()))
	r.SetIRQMasks(tr.rfMask, bbIRQMask)
	r.SetBaseband(true)
	tr.state = StateIdle
	tr.setDefaultState()
}

// handleTrxError aborts whatever runs and leaves the radio in TRXOFF first
func (tr *transceiver) handleTrxError() {
	tr.log.Errorw("transceiver error", "state", tr.state, "tx_state", tr.txState)
	tr.command(trx.CmdTrxOff, trx.StateTrxOff)
	tr.ackTransmitting = false

	switch tr.state {
	case StateTx:
		tr.stopTimer(timerTx)
		tr.txDone(Failure)
	case StateEDScan:
		tr.endEDScan()
		if cb := tr.t.cfg.Callbacks.EDEnd; cb != nil {
			cb(tr.id, 0)
		}
	default:
		tr.setDefaultState()
	}
}

// handleBatteryLow reports the battery monitor once and masks it, since the
// condition persists.
func (tr *transceiver) handleBatteryLow() {
	if tr.rfMask&trx.IRQBatLow == 0 {
		return
	}
	tr.log.Warn("battery low")
	tr.rfMask &^= trx.IRQBatLow
	tr.radio.SetIRQMasks(tr.rfMask, bbIRQMask)
	if cb := tr.t.cfg.Callbacks.BatteryLow; cb != nil {
		cb(tr.id)
	}
}
