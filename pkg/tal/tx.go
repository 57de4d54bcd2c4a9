package tal

import (
	"time"

	"github.com/herlein/gotal/pkg/frame"
	"github.com/herlein/gotal/pkg/trx"
)

// TxFrame starts the transmission of f. The outcome is reported once through
// Callbacks.TxDone, after all internal retries. With retry set, a frame that
// is not acknowledged is sent up to MaxFrameRetries more times.
//
// f.MPDU excludes the FCS, which the hardware appends. f must stay untouched
// until TxDone.
func (t *TAL) TxFrame(id TrxID, f *Frame, mode CSMAMode, retry bool) Status {
	tr := t.transceiver(id)
	if tr == nil {
		return InvalidParameter
	}
	if st := tr.canSend(f); st != Success {
		return st
	}
	switch mode {
	case NoCSMANoIFS, NoCSMAWithIFS, CSMAUnslotted:
	default:
		return InvalidParameter
	}

	tr.txFrame = f
	tr.csmaMode = mode
	tr.retries = 0
	tr.maxRetries = 0
	if retry {
		tr.maxRetries = tr.pib.MaxFrameRetries
	}
	tr.ackRequested = frame.Control(f.MPDU).AckRequest()
	tr.rxDuringBackoff = 0
	tr.state = StateTx

	tr.log.Debugw("tx frame", "len", len(f.MPDU), "seq", frame.Seq(f.MPDU),
		"mode", mode, "ack", tr.ackRequested)
	tr.sendFrame()
	return Success
}

// canSend checks that tr is free to send f
func (tr *transceiver) canSend(f *Frame) Status {
	if tr.state == StateSleep {
		return TrxAsleep
	}
	if tr.state != StateIdle || tr.ackTransmitting {
		return Busy
	}
	if f == nil || len(f.MPDU) <= frame.SeqOffset {
		return InvalidParameter
	}
	if len(f.MPDU)+tr.pib.fcsLen() > frame.MaxPHYPacketSize {
		return InvalidParameter
	}
	return Success
}

// sendFrame runs one complete send sequence for the current frame
func (tr *transceiver) sendFrame() {
	switch tr.csmaMode {
	case CSMAUnslotted:
		tr.csmaStart()
	case NoCSMAWithIFS:
		tr.waitIFS()
		tr.transmitFrame(false)
	default:
		tr.transmitFrame(false)
	}
}

// waitIFS enforces the inter-frame spacing after the last frame on air,
// received or transmitted: SIFS for short frames, LIFS otherwise.
func (tr *transceiver) waitIFS() {
	spacing := frame.MinSIFSPeriod * tr.symbolTime()
	if tr.lastFrameLen > frame.MaxSIFSFrameSize {
		spacing = frame.MinLIFSPeriod * tr.symbolTime()
	}
	elapsed := tr.t.plat.Now() - tr.lastFrameEnd
	if elapsed < spacing {
		tr.t.plat.Delay(spacing - elapsed)
	}
}

// markFrameEnd records the length and end time of the frame whose RXFE or
// TXFE is being handled.
func (tr *transceiver) markFrameEnd(n int) {
	tr.lastFrameLen = n
	tr.lastFrameEnd = time.Duration(tr.frameEnd.Load())
}

// transmitFrame downloads the frame and sends it, either straight away or
// gated by a hardware CCA.
func (tr *transceiver) transmitFrame(cca bool) {
	r := tr.radio
	mpdu := tr.txFrame.MPDU

	r.WriteTxFrame(mpdu, tr.pib.fcsLen())
	tr.setAutoMode(trx.AutoMode{TX2RX: tr.ackRequested, CCATX: cca})
	if tr.ackRequested {
		r.SetFrameTypeFilter(frameTypesAckOnly)
	}

	if cca {
		// no reception while the CCA runs
		r.SetBaseband(false)
		tr.command(trx.CmdRx, trx.StateRx)
		tr.txState = TxCCATX
		r.SetEDMode(trx.EDSingle)
	} else {
		tr.command(trx.CmdTxPrep, trx.StateTxPrep)
		tr.command(trx.CmdTx, trx.StateTx)
		tr.txState = TxTx
		if r.TxUnderrun() {
			tr.log.Warn("transmit underrun")
			tr.command(trx.CmdTrxOff, trx.StateTrxOff)
			andFlags(&tr.bbIRQs, ^uint32(trx.IRQTxFE))
			tr.txDone(Failure)
			return
		}
	}

	if err := r.Err(); err != nil {
		r.ClearErr()
		tr.log.Errorw("frame download failed", "error", err)
		tr.txDone(Failure)
	}
}

// handleTxEnd processes TXFE: the end of our frame, a busy CCA, or the end
// of an automatic ACK.
func (tr *transceiver) handleTxEnd() {
	if tr.ackTransmitting {
		tr.ackTransmissionDone()
		return
	}

	r := tr.radio
	switch tr.txState {
	case TxModeSwitch:
		tr.modeSwitchSent()
		return
	case TxCCATX:
		r.SetBaseband(true)
		if r.CCABusy() {
			tr.csmaContinue()
			return
		}
	case TxTx:
	default:
		tr.log.Debugw("unexpected TXFE", "tx_state", tr.txState)
		return
	}

	if r.TxUnderrun() {
		tr.log.Warn("transmit underrun")
		tr.command(trx.CmdTrxOff, trx.StateTrxOff)
		tr.txDone(Failure)
		return
	}

	tr.markFrameEnd(len(tr.txFrame.MPDU))

	if !tr.ackRequested {
		tr.trxState = trx.StateTxPrep
		tr.txDone(Success)
		return
	}

	// automatic TX to RX turnaround
	tr.trxState = trx.StateRx
	tr.txState = TxWaitingForAck
	tr.ackGrace = false
	if err := tr.startTimer(timerTx, tr.ackWaitDuration(), tr.ackTimeout); err != nil {
		tr.log.Errorw("ACK wait timer", "error", err)
		tr.txDone(Failure)
	}
}

// txDone applies the retry policy and, for a final outcome, restores the
// receive configuration and reports to the MAC.
func (tr *transceiver) txDone(status Status) {
	if status == NoAck && tr.retries < tr.maxRetries {
		tr.retries++
		tr.log.Debugw("retransmit", "retry", tr.retries)
		tr.sendFrame()
		return
	}

	tr.stopTimer(timerTx)
	r := tr.radio
	tr.setAutoMode(trx.AutoMode{AACK: true})
	r.SetFrameTypeFilter(frameTypesDefault)
	r.SetBaseband(true)
	if err := r.Err(); err != nil {
		r.ClearErr()
		tr.log.Errorw("restoring receive configuration", "error", err)
	}

	if tr.msActive {
		tr.endModeSwitch()
	}

	f := tr.txFrame
	tr.txFrame = nil
	tr.txState = TxIdle
	tr.state = StateIdle
	tr.setDefaultState()

	tr.log.Debugw("tx done", "status", status, "retries", tr.retries)
	if cb := tr.t.cfg.Callbacks.TxDone; cb != nil {
		cb(tr.id, status, f)
	}
}
