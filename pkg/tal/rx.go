package tal

import (
	"time"

	"github.com/herlein/gotal/pkg/buffer"
	"github.com/herlein/gotal/pkg/frame"
	"github.com/herlein/gotal/pkg/trx"
)

// ED to LQI scaling: the sensitivity floor maps to 0, floor+range to 255
const (
	edFloor = -100 // dBm
	edRange = 80   // dB
)

// handleRxStart processes RXFS. A frame on air during our backoff defers the
// transmission until the reception is complete.
func (tr *transceiver) handleRxStart() {
	if tr.txState != TxBackoff {
		return
	}
	tr.stopTimer(timerTx)
	tr.txState = TxDefer
	tr.rxDuringBackoff++
	tr.log.Debugw("backoff deferred by reception", "count", tr.rxDuringBackoff)
}

// handleRxEnd processes RXFE: upload, ACK classification, automatic ACK
// bookkeeping and queueing.
func (tr *transceiver) handleRxEnd() {
	r := tr.radio

	if r.RxFCS16() == tr.pib.FCS32 {
		tr.log.Debug("FCS type mismatch, frame ignored")
		tr.endRxTransaction()
		return
	}

	fcsLen := tr.pib.fcsLen()
	psduLen := r.RxFrameLen()
	if psduLen <= fcsLen || psduLen > frame.MaxPHYPacketSize {
		tr.log.Debugw("invalid frame length", "len", psduLen)
		tr.endRxTransaction()
		return
	}
	n := psduLen - fcsLen
	tr.markFrameEnd(n)

	if n == frame.AckLen {
		var ack [frame.AckLen]byte
		r.ReadRxFrame(ack[:])
		if frame.IsAck(ack[:]) {
			tr.handleAck(ack[:])
			return
		}
	}

	if tr.rxBuf == nil {
		// no room: stop receiving until Task finds a buffer
		tr.bufShortage = true
		tr.command(trx.CmdTrxOff, trx.StateTrxOff)
		tr.log.Warnw("frame dropped, no receive buffer", "len", n)
		if tr.txState == TxDefer {
			tr.continueDeferred()
		}
		return
	}

	b := tr.rxBuf
	r.ReadRxFrame(b.Body()[:n])
	b.Header = rxInfo{
		length:    n,
		ed:        r.EDValue(),
		timestamp: time.Duration(tr.rxTimestamp.Load()),
	}
	if err := r.Err(); err != nil {
		r.ClearErr()
		tr.log.Errorw("frame upload failed", "error", err)
		tr.endRxTransaction()
		return
	}

	fcf := frame.Control(b.Body()[:n])
	if tr.autoMode.AACK && fcf.AckRequest() && r.AddressMatched() {
		// the hardware is sending the ACK; finish on its TXFE
		tr.ackTransmitting = true
		return
	}
	tr.completeRx()
}

// completeRx queues the frame in the held buffer and replaces the buffer
func (tr *transceiver) completeRx() {
	b := tr.rxBuf
	if b == nil {
		tr.endRxTransaction()
		return
	}
	if err := tr.incoming.Append(b); err != nil {
		tr.log.Warnw("incoming queue full, frame dropped", "error", err)
	} else {
		tr.rxBuf = nil
		tr.allocRxBuffer()
	}
	tr.endRxTransaction()
}

// endRxTransaction continues whatever the reception interrupted
func (tr *transceiver) endRxTransaction() {
	switch {
	case tr.txState == TxDefer:
		tr.continueDeferred()
	case tr.state == StateIdle:
		tr.setDefaultState()
	}
}

// deliver hands queued frames to the MAC in arrival order and returns their
// buffers to the pool.
func (tr *transceiver) deliver() {
	for {
		b := tr.incoming.Remove(nil)
		if b == nil {
			return
		}
		tr.deliverOne(b)
	}
}

func (tr *transceiver) deliverOne(b *buffer.Buffer[rxInfo]) {
	defer tr.t.pool.Free(b)
	cb := tr.t.cfg.Callbacks.RxFrame
	if cb == nil {
		return
	}
	h := b.Header
	cb(tr.id, &Frame{
		MPDU:      b.Body()[:h.length],
		Timestamp: h.timestamp,
		ED:        h.ed,
		LQI:       scaleED(h.ed),
	})
}

// scaleED maps an energy reading in dBm to 0..255
func scaleED(ed int8) uint8 {
	v := (int(ed) - edFloor) * 255 / edRange
	switch {
	case v < 0:
		return 0
	case v > 255:
		return 255
	}
	return uint8(v)
}

// LevelToDBm inverts the 0..255 energy scale of EDEnd and RX frames
func LevelToDBm(level uint8) int {
	return edFloor + int(level)*edRange/255
}
