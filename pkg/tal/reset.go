package tal

import "github.com/herlein/gotal/pkg/trx"

// Reset resets transceiver id and brings it back to TAL_IDLE. Queued frames
// are discarded. A transmission in progress is reported as Failure. With
// setDefaultPIB the PIB returns to the configured initial values, otherwise
// the current PIB is written back.
func (t *TAL) Reset(id TrxID, setDefaultPIB bool) Status {
	tr := t.transceiver(id)
	if tr == nil {
		return InvalidParameter
	}
	if tr.state == StateSleep {
		return TrxAsleep
	}

	tr.stopTimer(timerTx)
	tr.stopTimer(timerCalibration)
	tr.clearIRQs()
	tr.command(trx.CmdReset, trx.StateTrxOff)
	if !t.waitWakeup(t.cfg.WakeupTimeout, tr) {
		tr.radio.ClearErr()
		tr.log.Error("reset timeout")
		return Failure
	}
	tr.clearIRQs()

	pending := tr.txFrame
	tr.txFrame = nil
	tr.ackTransmitting = false
	tr.incoming.Flush(t.pool)
	if tr.rxBuf != nil {
		t.pool.Free(tr.rxBuf)
		tr.rxBuf = nil
	}
	tr.bufShortage = false
	if tr.msActive {
		tr.endModeSwitch()
	}

	if setDefaultPIB {
		ieee := tr.pib.IEEEAddress
		tr.pib = t.cfg.PIBFor(id)
		if tr.pib.IEEEAddress == 0 || tr.pib.IEEEAddress == ^uint64(0) {
			tr.pib.IEEEAddress = ieee
		}
	}
	tr.rxOn = t.cfg.RxOnDefault

	if err := tr.init(); err != nil {
		tr.log.Errorw("reset", "error", err)
		return Failure
	}

	if pending != nil {
		tr.log.Debug("transmission aborted by reset")
		if cb := t.cfg.Callbacks.TxDone; cb != nil {
			cb(id, Failure, pending)
		}
	}
	return Success
}

// RxEnable switches the receiver of an idle transceiver on or off. The
// setting also applies between later transactions.
func (t *TAL) RxEnable(id TrxID, on bool) Status {
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
	tr.rxOn = on
	tr.setDefaultState()
	return Success
}
