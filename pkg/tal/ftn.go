package tal

import (
	"math"
	"time"

	"golang.org/x/exp/slices"
	"gonum.org/v1/gonum/stat"

	"github.com/herlein/gotal/pkg/trx"
)

// LO leakage measurement
const (
	loSamples   = 7
	loMaxSpread = 2
	loSettle    = 20 * time.Microsecond
)

func (tr *transceiver) startCalibrationTimer(d time.Duration) {
	if err := tr.startTimer(timerCalibration, d, tr.calibrate); err != nil {
		tr.log.Errorw("calibration timer", "error", err)
	}
}

// calibrate runs the periodic filter and PLL tuning. A busy transceiver
// postpones it by CalibrationRetry.
func (tr *transceiver) calibrate() {
	cfg := &tr.t.cfg
	if tr.state != StateIdle || tr.ackTransmitting || tr.radio.AGCFrozen() {
		tr.log.Debugw("calibration postponed", "state", tr.state)
		tr.startCalibrationTimer(cfg.CalibrationRetry)
		return
	}

	// a pass through TRXOFF retunes filters and PLL
	tr.command(trx.CmdTrxOff, trx.StateTrxOff)
	if tr.t.version == 1 || cfg.LOCalibration {
		tr.calibrateLO()
	}
	tr.setDefaultState()
	tr.calibrations++

	if err := tr.radio.Err(); err != nil {
		tr.radio.ClearErr()
		tr.log.Errorw("calibration failed", "error", err)
	}
	tr.startCalibrationTimer(cfg.CalibrationPeriod)
}

// calibrateLO measures the transmitter LO leakage correction several times
// and writes back a robust estimate.
func (tr *transceiver) calibrateLO() {
	r := tr.radio
	is := make([]float64, 0, loSamples)
	qs := make([]float64, 0, loSamples)

	tr.t.plat.Lock()
	for n := 0; n < loSamples; n++ {
		r.SetCommand(trx.CmdTxPrep)
		tr.t.plat.Delay(loSettle)
		i, q := r.LOLeakage()
		is = append(is, float64(i))
		qs = append(qs, float64(q))
		r.SetCommand(trx.CmdTrxOff)
	}
	tr.t.plat.Unlock()

	tr.lo = [2]uint8{loEstimate(is), loEstimate(qs)}
	r.SetLOLeakage(tr.lo[0], tr.lo[1])
	tr.log.Debugw("LO leakage calibrated", "txci", tr.lo[0], "txcq", tr.lo[1])
}

// loEstimate averages samples that agree and takes the median otherwise
func loEstimate(samples []float64) uint8 {
	s := slices.Clone(samples)
	slices.Sort(s)
	if s[len(s)-1]-s[0] <= loMaxSpread {
		return uint8(math.Round(stat.Mean(s, nil)))
	}
	return uint8(stat.Quantile(0.5, stat.Empirical, s, nil))
}

// Calibrations returns how many calibration runs transceiver id completed
func (t *TAL) Calibrations(id TrxID) int {
	if tr := t.transceiver(id); tr != nil {
		return tr.calibrations
	}
	return 0
}

// LOLeakage returns the last LO leakage correction of transceiver id
func (t *TAL) LOLeakage(id TrxID) (i, q uint8) {
	if tr := t.transceiver(id); tr != nil {
		return tr.lo[0], tr.lo[1]
	}
	return 0, 0
}
