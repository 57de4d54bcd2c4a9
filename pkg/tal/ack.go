package tal

import (
	"github.com/herlein/gotal/pkg/frame"
	"github.com/herlein/gotal/pkg/trx"
)

// isAckValid reports whether ack acknowledges the frame being transmitted
func (tr *transceiver) isAckValid(ack []byte) bool {
	return tr.txFrame != nil && frame.Seq(ack) == frame.Seq(tr.txFrame.MPDU)
}

// handleAck consumes a received ACK frame. Only an ACK for the frame we
// are waiting on ends the transaction; anything else is dropped.
func (tr *transceiver) handleAck(ack []byte) {
	if tr.txState != TxWaitingForAck || !tr.isAckValid(ack) {
		tr.log.Debugw("ignoring ACK", "seq", frame.Seq(ack), "tx_state", tr.txState)
		tr.endRxTransaction()
		return
	}

	tr.stopTimer(timerTx)
	status := Success
	if frame.Control(ack).FramePending() {
		status = FramePending
	}
	tr.txDone(status)
}

// ackTimeout fires when no valid ACK arrived in time
func (tr *transceiver) ackTimeout() {
	if tr.txState != TxWaitingForAck {
		return
	}

	// A frame end that Task has not seen yet may be the ACK
	if tr.bbIRQs.Load()&trx.IRQRxFE != 0 && !tr.ackGrace {
		tr.ackGrace = true
		if err := tr.startTimer(timerTx, tr.ackWaitDuration(), tr.ackTimeout); err == nil {
			return
		}
	}

	tr.radio.SetFrameTypeFilter(frameTypesDefault)
	tr.txDone(NoAck)
}

// ackTransmissionDone finishes the reception that triggered an automatic ACK
func (tr *transceiver) ackTransmissionDone() {
	tr.ackTransmitting = false
	tr.markFrameEnd(frame.AckLen)
	tr.trxState = trx.StateRx
	tr.completeRx()
}
