package tal

import "github.com/herlein/gotal/pkg/trx"

// Sleep puts transceiver id to sleep. It is only allowed while idle. With
// both transceivers asleep the chip enters deep sleep and loses its register
// contents; Wakeup restores them from the PIB.
func (t *TAL) Sleep(id TrxID) Status {
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

	tr.stopTimer(timerCalibration)
	tr.command(trx.CmdTrxOff, trx.StateTrxOff)
	tr.command(trx.CmdSleep, trx.StateSleep)
	tr.clearIRQs()

	if tr.rxBuf != nil {
		t.pool.Free(tr.rxBuf)
		tr.rxBuf = nil
	}
	tr.bufShortage = false
	tr.state = StateSleep

	if err := tr.radio.Err(); err != nil {
		tr.radio.ClearErr()
		tr.log.Errorw("sleep failed", "error", err)
		return Failure
	}
	tr.log.Debug("asleep")
	return Success
}

// Wakeup brings transceiver id back from sleep and blocks until the chip
// confirms, at most Config.WakeupTimeout. A sleeping sibling is woken along
// with it and sent back to sleep afterwards.
func (t *TAL) Wakeup(id TrxID) Status {
	tr := t.transceiver(id)
	if tr == nil {
		return InvalidParameter
	}
	if tr.state != StateSleep {
		return TrxAwake
	}

	waking := []*transceiver{tr}
	sib := t.trx[NumTrx-1-id]
	if sib.state == StateSleep {
		waking = append(waking, sib)
	}

	for _, w := range waking {
		w.clearIRQs()
		w.command(trx.CmdTrxOff, trx.StateTrxOff)
	}

	if !t.waitWakeup(t.cfg.WakeupTimeout, waking...) {
		for _, w := range waking {
			w.command(trx.CmdSleep, trx.StateSleep)
			w.clearIRQs()
			w.state = StateSleep
		}
		tr.radio.ClearErr()
		tr.log.Warn("wakeup timeout")
		return Failure
	}

	if len(waking) > 1 {
		sib.command(trx.CmdSleep, trx.StateSleep)
		sib.clearIRQs()
	}

	tr.trxConfig()
	tr.writeAllPIB()
	tr.allocRxBuffer()
	tr.state = StateIdle
	tr.txState = TxIdle
	tr.setDefaultState()
	tr.startCalibrationTimer(t.cfg.CalibrationPeriod)

	if err := tr.radio.Err(); err != nil {
		tr.radio.ClearErr()
		tr.log.Errorw("reconfiguration after wakeup failed", "error", err)
		return Failure
	}
	tr.log.Debug("awake")
	return Success
}
