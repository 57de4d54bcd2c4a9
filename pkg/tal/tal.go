// Package tal is the transceiver abstraction layer for the AT86RF215: it
// turns the two IEEE 802.15.4 transceivers of the chip into a frame
// transmit/receive service for a MAC layer.
//
// The layer is single consumer. Interrupt code (a GPIO goroutine, the
// simulated chip) only calls HandleIRQ, which copies the interrupt status
// into atomic shadow words. Everything else happens in Task, in timer
// callbacks of the platform, and in the API calls, all of which must run on
// the same goroutine:
//
//	t, err := tal.New(regs, platform, cfg)
//	...
//	for {
//		platform.Poll()
//		t.Task()
//	}
package tal

import (
	"encoding/binary"
	"fmt"
	"math/rand"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/herlein/gotal/pkg/buffer"
	"github.com/herlein/gotal/pkg/pal"
	"github.com/herlein/gotal/pkg/trx"
)

// TrxID selects one transceiver of the chip
type TrxID uint8

const (
	RF09 TrxID = iota // sub-GHz
	RF24              // 2.4 GHz
	NumTrx
)

func (id TrxID) String() string {
	switch id {
	case RF09:
		return "rf09"
	case RF24:
		return "rf24"
	default:
		return fmt.Sprintf("trx%d", uint8(id))
	}
}

// ParseTrxID accepts the names printed by String
func ParseTrxID(s string) (TrxID, error) {
	switch strings.ToLower(s) {
	case "rf09", "09", "subghz":
		return RF09, nil
	case "rf24", "24", "2g4":
		return RF24, nil
	}
	return 0, fmt.Errorf("unknown transceiver %q", s)
}

// State is the top level TAL state of a transceiver
type State uint8

const (
	StateIdle State = iota
	StateTx
	StateEDScan
	StateSleep
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "TAL_IDLE"
	case StateTx:
		return "TAL_TX"
	case StateEDScan:
		return "TAL_ED_SCAN"
	case StateSleep:
		return "TAL_SLEEP"
	default:
		return "TAL_UNKNOWN"
	}
}

// TxState is the transmit sub-state
type TxState uint8

const (
	TxIdle TxState = iota
	TxBackoff
	TxCCATX
	TxTx
	TxWaitingForAck
	TxDefer
	TxModeSwitch  // mode switch PPDU on air
	TxWaitNewMode // settling into the new PHY
)

func (s TxState) String() string {
	switch s {
	case TxIdle:
		return "TX_IDLE"
	case TxBackoff:
		return "TX_BACKOFF"
	case TxCCATX:
		return "TX_CCATX"
	case TxTx:
		return "TX_TX"
	case TxWaitingForAck:
		return "TX_WAITING_FOR_ACK"
	case TxDefer:
		return "TX_DEFER"
	case TxModeSwitch:
		return "TX_MS_PPDU"
	case TxWaitNewMode:
		return "TX_WAIT_FOR_NEW_MODE"
	default:
		return "TX_UNKNOWN"
	}
}

// CSMAMode selects the channel access for a transmission
type CSMAMode uint8

const (
	NoCSMANoIFS CSMAMode = iota
	NoCSMAWithIFS
	CSMAUnslotted
	CSMASlotted // not supported
)

var csmaModeNames = []string{"no-csma", "ifs", "csma", "slotted"}

func (m CSMAMode) String() string {
	if int(m) < len(csmaModeNames) {
		return csmaModeNames[m]
	}
	return fmt.Sprintf("CSMAMode(%d)", uint8(m))
}

// ParseCSMAMode accepts the names printed by String
func ParseCSMAMode(s string) (CSMAMode, error) {
	for i, n := range csmaModeNames {
		if n == s {
			return CSMAMode(i), nil
		}
	}
	return 0, fmt.Errorf("unknown CSMA mode %q", s)
}

// Frame is an MPDU without FCS plus reception metadata
type Frame struct {
	MPDU      []byte
	Timestamp time.Duration // start of frame, platform time
	ED        int8          // energy in dBm
	LQI       uint8
}

// rxInfo is the buffer header of a received frame
type rxInfo struct {
	length    int
	ed        int8
	timestamp time.Duration
}

// Timer slots per transceiver
const (
	timerTx pal.TimerID = iota // backoff and ACK wait
	timerCalibration
	timersPerTrx
)

const (
	wakeupPollInterval = 10 * time.Microsecond
	rfIRQMask          = trx.IRQWakeup | trx.IRQTrxErr | trx.IRQBatLow
	bbIRQMask          = trx.IRQRxFS | trx.IRQRxFE | trx.IRQTxFE
)

// TAL drives both transceivers of one chip
type TAL struct {
	regs    trx.Registers
	plat    pal.Platform
	cfg     Config
	log     *zap.SugaredLogger
	pool    *buffer.Pool[rxInfo]
	trx     [NumTrx]*transceiver
	rng     *rand.Rand
	partNum uint8
	version uint8
}

// transceiver is the per-radio context
type transceiver struct {
	t     *TAL
	id    TrxID
	radio *trx.Radio
	log   *zap.SugaredLogger
	pib   PIB

	state    State
	txState  TxState
	trxState trx.State // last commanded radio state
	rxOn     bool
	autoMode trx.AutoMode
	rfMask   uint8

	// shadow interrupt status, written by HandleIRQ
	rfIRQs      atomic.Uint32
	bbIRQs      atomic.Uint32
	rxTimestamp atomic.Int64
	frameEnd    atomic.Int64

	// transmit
	txFrame         *Frame
	csmaMode        CSMAMode
	retries         uint8
	maxRetries      uint8
	ackRequested    bool
	ackGrace        bool
	nb, be          uint8
	rxDuringBackoff uint8
	lastFrameLen    int           // MPDU length of the last frame on air, either direction
	lastFrameEnd    time.Duration // RXFE or TXFE time of that frame

	// PHY switching
	prevPHY  *PHY // for RestorePHY
	msPrev   PHY  // restored after a mode switch frame
	msTarget PHY
	msActive bool

	// receive
	ackTransmitting bool
	rxBuf           *buffer.Buffer[rxInfo]
	incoming        *buffer.Queue[rxInfo]
	bufShortage     bool

	calibrations int
	lo           [2]uint8
}

// New initializes the TAL: chip reset, part check, random seed, transceiver
// configuration from the PIB, receive buffers and calibration timers.
func New(regs trx.Registers, plat pal.Platform, cfg *Config) (*TAL, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	t := &TAL{
		regs: regs,
		plat: plat,
		cfg:  *cfg,
		log:  cfg.Logger,
	}
	if t.log == nil {
		t.log = zap.NewNop().Sugar()
	}

	pool, err := buffer.New[rxInfo](cfg.Buffers, plat)
	if err != nil {
		return nil, fmt.Errorf("failed to create buffer pool: %w", err)
	}
	t.pool = pool

	for id := RF09; id < NumTrx; id++ {
		t.trx[id] = &transceiver{
			t:        t,
			id:       id,
			radio:    trx.NewRadio(regs, int(id)),
			log:      t.log.Named(id.String()),
			pib:      cfg.PIBFor(id),
			rxOn:     cfg.RxOnDefault,
			incoming: buffer.NewQueue[rxInfo](cfg.IncomingQueueCapacity, plat),
		}
	}

	if src, ok := regs.(trx.IRQSource); ok {
		src.SetIRQHandler(t.HandleIRQ)
	}

	if err := t.resetChip(); err != nil {
		return nil, err
	}

	pn, vn, err := trx.PartNumber(regs)
	if err != nil {
		return nil, err
	}
	switch pn {
	case trx.PartNumAT86RF215, trx.PartNumAT86RF215IQ, trx.PartNumAT86RF215M:
	default:
		return nil, fmt.Errorf("%w: part number 0x%02X", ErrUnsupportedPart, pn)
	}
	if vn != 1 && vn != 3 {
		return nil, fmt.Errorf("%w: version %d", ErrUnsupportedPart, vn)
	}
	t.partNum, t.version = pn, vn

	t.rng = rand.New(rand.NewSource(t.randomSeed()))

	for _, tr := range t.trx {
		if tr.pib.IEEEAddress == 0 || tr.pib.IEEEAddress == ^uint64(0) {
			tr.pib.IEEEAddress = t.randomAddress()
		}
		if err := tr.init(); err != nil {
			return nil, err
		}
	}

	t.log.Infow("transceiver initialized", "part", fmt.Sprintf("0x%02X", pn), "version", vn)
	return t, nil
}

// resetChip resets both transceivers and waits for their wakeup interrupts
func (t *TAL) resetChip() error {
	for _, tr := range t.trx {
		tr.clearIRQs()
	}
	if err := trx.ResetChip(t.regs); err != nil {
		return fmt.Errorf("failed to reset transceiver: %w", err)
	}
	if !t.waitWakeup(t.cfg.WakeupTimeout, t.trx[:]...) {
		return ErrResetTimeout
	}
	for _, tr := range t.trx {
		if st := tr.radio.State(); st != trx.StateTrxOff {
			return fmt.Errorf("%w: %s in %s after reset", ErrResetTimeout, tr.id, st)
		}
	}
	return nil
}

// waitWakeup polls for the wakeup interrupt of every listed transceiver.
// The flags are consumed on success.
func (t *TAL) waitWakeup(timeout time.Duration, trs ...*transceiver) bool {
	deadline := t.plat.Now() + timeout
	for {
		t.HandleIRQ()
		done := true
		for _, tr := range trs {
			if tr.rfIRQs.Load()&trx.IRQWakeup == 0 {
				done = false
			}
		}
		if done {
			for _, tr := range trs {
				andFlags(&tr.rfIRQs, ^uint32(trx.IRQWakeup))
			}
			return true
		}
		if t.plat.Now() >= deadline {
			return false
		}
		t.plat.Delay(wakeupPollInterval)
	}
}

// randomSeed reads the hardware RNG. The receiver has to run for the value
// to be random.
func (t *TAL) randomSeed() int64 {
	r := t.trx[RF24].radio
	r.SetCommand(trx.CmdRx)
	var b [8]byte
	for i := range b {
		b[i] = r.RandomValue()
	}
	r.SetCommand(trx.CmdTrxOff)
	return int64(binary.LittleEndian.Uint64(b[:]))
}

func (t *TAL) randomAddress() uint64 {
	for {
		a := t.rng.Uint64()
		if a != 0 && a != ^uint64(0) {
			return a
		}
	}
}

// transceiver returns the context of id or nil
func (t *TAL) transceiver(id TrxID) *transceiver {
	if id >= NumTrx {
		return nil
	}
	return t.trx[id]
}

// State returns the TAL state of transceiver id
func (t *TAL) State(id TrxID) State {
	if tr := t.transceiver(id); tr != nil {
		return tr.state
	}
	return StateIdle
}

// TxState returns the transmit sub-state of transceiver id
func (t *TAL) TxState(id TrxID) TxState {
	if tr := t.transceiver(id); tr != nil {
		return tr.txState
	}
	return TxIdle
}

// Version returns the chip part number and version read at init
func (t *TAL) Version() (pn, vn uint8) {
	return t.partNum, t.version
}

// Buffers reports buffer pool usage: buffers in use and free large and
// small buffers.
func (t *TAL) Buffers() (inUse, large, small int) {
	large, small = t.pool.Available()
	return t.pool.InUse(), large, small
}

// Pending returns the number of received frames waiting for Task
func (t *TAL) Pending(id TrxID) int {
	if tr := t.transceiver(id); tr != nil {
		return tr.incoming.Len()
	}
	return 0
}

// init brings a transceiver from TRXOFF after reset to TAL_IDLE
func (tr *transceiver) init() error {
	tr.trxConfig()
	tr.writeAllPIB()
	tr.allocRxBuffer()
	tr.state = StateIdle
	tr.txState = TxIdle
	tr.setDefaultState()
	tr.startCalibrationTimer(tr.t.cfg.CalibrationPeriod)
	if err := tr.radio.Err(); err != nil {
		tr.radio.ClearErr()
		return fmt.Errorf("failed to configure %s: %w", tr.id, err)
	}
	return nil
}

// trxConfig writes the static configuration lost on reset or deep sleep
func (tr *transceiver) trxConfig() {
	r := tr.radio
	r.SetCommand(trx.CmdTrxOff)
	tr.trxState = trx.StateTrxOff
	tr.rfMask = rfIRQMask
	r.SetIRQMasks(tr.rfMask, bbIRQMask)
	tr.writePHY(tr.pib.PHY)
	tr.setAutoMode(trx.AutoMode{AACK: true})
	r.SetFrameTypeFilter(frameTypesDefault)
	r.SetFrontEnd(tr.t.cfg.FrontEnd)
	r.SetLOLeakage(tr.lo[0], tr.lo[1])
}

func (tr *transceiver) setAutoMode(m trx.AutoMode) {
	tr.autoMode = m
	tr.radio.SetAutoMode(m)
}

func (tr *transceiver) command(c trx.Command, s trx.State) {
	tr.radio.SetCommand(c)
	tr.trxState = s
}

// setDefaultState puts the radio in its resting state: RX when enabled and
// a receive buffer is available, TRXOFF otherwise.
func (tr *transceiver) setDefaultState() {
	if tr.rxOn && !tr.bufShortage {
		tr.command(trx.CmdRx, trx.StateRx)
		return
	}
	tr.command(trx.CmdTrxOff, trx.StateTrxOff)
}

func (tr *transceiver) allocRxBuffer() {
	if tr.rxBuf != nil {
		return
	}
	tr.rxBuf = tr.t.pool.Alloc(tr.t.cfg.Buffers.LargeBufferSize)
	tr.bufShortage = tr.rxBuf == nil
	if tr.bufShortage {
		tr.log.Warn("no receive buffer available")
	}
}

func (tr *transceiver) startTimer(slot pal.TimerID, d time.Duration, fn func()) error {
	id := pal.TimerID(tr.id)*timersPerTrx + slot
	if tr.t.plat.TimerRunning(id) {
		_ = tr.t.plat.StopTimer(id)
	}
	return tr.t.plat.StartTimer(id, d, fn)
}

func (tr *transceiver) stopTimer(slot pal.TimerID) {
	id := pal.TimerID(tr.id)*timersPerTrx + slot
	if tr.t.plat.TimerRunning(id) {
		_ = tr.t.plat.StopTimer(id)
	}
}

func (tr *transceiver) clearIRQs() {
	tr.rfIRQs.Store(0)
	tr.bbIRQs.Store(0)
}

// HandleIRQ is the interrupt entry point. It reads and clears the chip
// interrupt status and records it for Task. Safe to call from any goroutine.
func (t *TAL) HandleIRQ() {
	st, err := trx.ReadIRQStatus(t.regs)
	if err != nil {
		t.log.Errorw("IRQ status read failed", "error", err)
		return
	}
	now := t.plat.Now()
	for i, tr := range t.trx {
		rf, bb := st[i], st[int(NumTrx)+i]
		if bb&trx.IRQRxFS != 0 {
			tr.rxTimestamp.Store(int64(now))
		}
		if bb&(trx.IRQRxFE|trx.IRQTxFE) != 0 {
			tr.frameEnd.Store(int64(now))
		}
		orFlags(&tr.rfIRQs, uint32(rf))
		orFlags(&tr.bbIRQs, uint32(bb))
	}
}

// Task drains the shadow interrupt flags in a fixed order, delivers queued
// frames and retries buffer allocation. Call it from the main loop.
func (t *TAL) Task() {
	for _, tr := range t.trx {
		tr.task()
	}
}

func (tr *transceiver) task() {
	rf := uint8(tr.rfIRQs.Swap(0))
	bb := uint8(tr.bbIRQs.Swap(0))

	if tr.state != StateSleep {
		if bb&trx.IRQRxFS != 0 {
			tr.handleRxStart()
		}
		if bb&trx.IRQRxFE != 0 {
			tr.handleRxEnd()
		}
		if bb&trx.IRQTxFE != 0 {
			tr.handleTxEnd()
		}
		if rf&trx.IRQEDC != 0 {
			tr.handleEDEnd()
		}
		if rf&trx.IRQTrxErr != 0 {
			tr.handleTrxError()
		}
		if rf&trx.IRQBatLow != 0 {
			tr.handleBatteryLow()
		}
		if rf&trx.IRQWakeup != 0 {
			tr.log.Debug("unexpected wakeup interrupt")
		}
	}

	tr.deliver()

	if tr.bufShortage && tr.state != StateSleep {
		tr.allocRxBuffer()
		if !tr.bufShortage {
			tr.log.Debug("receive buffer available again")
			if tr.state == StateIdle && !tr.ackTransmitting {
				tr.setDefaultState()
			}
		}
	}
}

func orFlags(a *atomic.Uint32, v uint32) {
	for {
		old := a.Load()
		if old&v == v || a.CompareAndSwap(old, old|v) {
			return
		}
	}
}

func andFlags(a *atomic.Uint32, v uint32) {
	for {
		old := a.Load()
		if a.CompareAndSwap(old, old&v) {
			return
		}
	}
}
