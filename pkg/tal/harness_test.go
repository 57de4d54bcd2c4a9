package tal

import (
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/herlein/gotal/pkg/buffer"
	"github.com/herlein/gotal/pkg/frame"
	"github.com/herlein/gotal/pkg/pal"
	"github.com/herlein/gotal/pkg/trx/sim"
)

// Addresses of the node under test
const (
	testPAN   = 0xCAFE
	testShort = 0x0001
	peerShort = 0x0002
)

type rxBuffer = buffer.Buffer[rxInfo]

type txResult struct {
	id     TrxID
	status Status
	at     time.Duration
}

type rxResult struct {
	id    TrxID
	mpdu  []byte
	lqi   uint8
	ed    int8
	stamp time.Duration
}

// harness runs a TAL against the simulated chip on virtual time
type harness struct {
	t     *testing.T
	clock *pal.Sim
	chip  *sim.Chip
	tal   *TAL

	txDone  []txResult
	rx      []rxResult
	ed      []uint8
	batLow  []TrxID
	onTxEnd func(id TrxID, status Status)
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()
	h := &harness{t: t, clock: pal.NewSim()}
	h.chip = sim.New(h.clock)

	cfg := DefaultConfig()
	cfg.Logger = zaptest.NewLogger(t).Sugar()
	for _, p := range []*PIB{&cfg.RF09, &cfg.RF24} {
		p.PANID = testPAN
		p.ShortAddress = testShort
	}
	cfg.Callbacks = Callbacks{
		TxDone: func(id TrxID, status Status, f *Frame) {
			h.txDone = append(h.txDone, txResult{id: id, status: status, at: h.clock.Now()})
			if h.onTxEnd != nil {
				h.onTxEnd(id, status)
			}
		},
		RxFrame: func(id TrxID, f *Frame) {
			h.rx = append(h.rx, rxResult{
				id:    id,
				mpdu:  append([]byte(nil), f.MPDU...),
				lqi:   f.LQI,
				ed:    f.ED,
				stamp: f.Timestamp,
			})
		},
		EDEnd: func(id TrxID, level uint8) {
			h.ed = append(h.ed, level)
		},
		BatteryLow: func(id TrxID) {
			h.batLow = append(h.batLow, id)
		},
	}
	if mutate != nil {
		mutate(cfg)
	}

	tl, err := New(h.chip, h.clock, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.tal = tl
	return h
}

// runFor advances virtual time by d, calling Task after every event like a
// main loop would.
func (h *harness) runFor(d time.Duration) {
	end := h.clock.Now() + d
	for {
		h.tal.Task()
		at, ok := h.clock.NextEvent()
		if !ok || at > end {
			break
		}
		h.clock.Step()
	}
	if now := h.clock.Now(); end > now {
		h.clock.Advance(end - now)
	}
	h.tal.Task()
}

// runUntil steps until cond holds or limit passes
func (h *harness) runUntil(limit time.Duration, cond func() bool) bool {
	end := h.clock.Now() + limit
	for !cond() {
		at, ok := h.clock.NextEvent()
		if !ok || at > end {
			return false
		}
		h.clock.Step()
		h.tal.Task()
	}
	return true
}

func (h *harness) radio(id TrxID) *sim.Radio {
	return h.chip.Radio(int(id))
}

func (h *harness) expectTxDone(want ...Status) {
	h.t.Helper()
	if len(h.txDone) != len(want) {
		h.t.Fatalf("TxDone called %d times, want %d: %+v", len(h.txDone), len(want), h.txDone)
	}
	for i, w := range want {
		if h.txDone[i].status != w {
			h.t.Errorf("TxDone #%d = %s, want %s", i, h.txDone[i].status, w)
		}
	}
}

func dataFrame(seq uint8, dest uint16, ackReq bool, payload string) []byte {
	return frame.DataFrame{
		Seq:        seq,
		PANID:      testPAN,
		Dest:       dest,
		Src:        peerShort,
		AckRequest: ackReq,
		Payload:    []byte(payload),
	}.Bytes()
}

func ackResponder(pending bool) func([]byte) []byte {
	return func(mpdu []byte) []byte {
		return frame.NewAck(frame.Seq(mpdu), pending)
	}
}
