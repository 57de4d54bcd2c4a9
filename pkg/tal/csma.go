package tal

import (
	"time"

	"github.com/herlein/gotal/pkg/frame"
	"github.com/herlein/gotal/pkg/trx"
)

// csmaStart begins unslotted CSMA-CA for the current frame
func (tr *transceiver) csmaStart() {
	tr.nb = 0
	tr.be = tr.pib.MinBE
	if tr.be == 0 {
		// collision avoidance disabled
		tr.transmitFrame(false)
		return
	}
	tr.backoff()
}

// backoff waits a random number of unit backoff periods and then runs the
// CCA-gated transmission.
func (tr *transceiver) backoff() {
	periods := tr.t.rng.Intn(1 << tr.be)
	d := time.Duration(periods*frame.UnitBackoffPeriod) * tr.symbolTime()

	tr.txState = TxBackoff
	tr.setAutoMode(trx.AutoMode{AACK: true})
	tr.radio.SetFrameTypeFilter(frameTypesDefault)

	if tr.rxDuringBackoff < tr.pib.MaxNumRxFramesDuringBackoff && !tr.bufShortage {
		if tr.trxState != trx.StateRx {
			tr.command(trx.CmdRx, trx.StateRx)
		}
	} else {
		tr.command(trx.CmdTrxOff, trx.StateTrxOff)
	}

	if d == 0 {
		tr.backoffExpired()
		return
	}
	if err := tr.startTimer(timerTx, d, tr.backoffExpired); err != nil {
		tr.log.Errorw("backoff timer", "error", err)
		tr.txDone(Failure)
	}
}

// backoffExpired runs the CCA unless the channel is known to be in use: an
// ACK of ours is on air or the AGC is frozen on an incoming frame.
func (tr *transceiver) backoffExpired() {
	if tr.txState != TxBackoff {
		return
	}
	if tr.ackTransmitting || tr.radio.AGCFrozen() {
		tr.csmaContinue()
		return
	}
	tr.transmitFrame(true)
}

// csmaContinue counts a busy channel and backs off again or gives up
func (tr *transceiver) csmaContinue() {
	tr.nb++
	if tr.nb > tr.pib.MaxCSMABackoffs {
		tr.log.Debugw("channel access failure", "nb", tr.nb)
		tr.txDone(ChannelAccessFailure)
		return
	}
	if tr.be < tr.pib.MaxBE {
		tr.be++
	}
	tr.backoff()
}

// continueDeferred resumes a transmission that a reception interrupted
// during backoff.
func (tr *transceiver) continueDeferred() {
	if tr.rxDuringBackoff > tr.pib.MaxNumRxFramesDuringBackoff {
		tr.txDone(ChannelAccessFailure)
		return
	}
	if tr.csmaMode != CSMAUnslotted {
		tr.transmitFrame(false)
		return
	}
	if tr.t.cfg.DeferPolicy == DeferResume && tr.be > 0 {
		tr.backoff()
		return
	}
	tr.csmaStart()
}
