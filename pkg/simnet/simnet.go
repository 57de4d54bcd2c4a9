// Package simnet runs several TAL instances on simulated chips that share
// one virtual clock and one radio medium.
package simnet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"github.com/herlein/gotal/pkg/frame"
	"github.com/herlein/gotal/pkg/pal"
	"github.com/herlein/gotal/pkg/tal"
	"github.com/herlein/gotal/pkg/trx/sim"
)

// Node is one simulated device. Short addresses start at 1.
type Node struct {
	Index int
	Short uint16
	Chip  *sim.Chip
	TAL   *tal.TAL

	Received [tal.NumTrx][]Reception
	TxDone   [tal.NumTrx][]TxResult
	ED       [tal.NumTrx][]uint8

	// OnED, when set, also receives every EDEnd
	OnED func(id tal.TrxID, level uint8)
}

// Reception is a copy of a delivered frame
type Reception struct {
	MPDU []byte
	At   time.Duration
	ED   int8
	LQI  uint8
}

// TxResult is one TxDone report
type TxResult struct {
	Status tal.Status
	At     time.Duration
}

// Network is a set of nodes on one medium
type Network struct {
	Clock  *pal.Sim
	Medium *sim.Medium
	Nodes  []*Node
	PANID  uint16
	log    *zap.SugaredLogger
}

// New builds n nodes from base. Every node gets its own copy of base with the
// network PAN ID, its short address and its own callbacks.
func New(n int, base *tal.Config, log *zap.SugaredLogger) (*Network, error) {
	if n < 1 {
		return nil, fmt.Errorf("need at least one node, got %d", n)
	}
	if base == nil {
		base = tal.DefaultConfig()
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	net := &Network{
		Clock:  pal.NewSim(),
		Medium: sim.NewMedium(),
		PANID:  base.RF24.PANID,
		log:    log,
	}
	if net.PANID == tal.DefaultPANID {
		net.PANID = 0xCAFE
	}

	for i := 0; i < n; i++ {
		node := &Node{Index: i, Short: uint16(i + 1)}
		node.Chip = sim.New(net.Clock)
		net.Medium.Attach(node.Chip)

		cfg := *base
		cfg.Logger = log.Named(fmt.Sprintf("node%d", i))
		for _, p := range []*tal.PIB{&cfg.RF09, &cfg.RF24} {
			p.PANID = net.PANID
			p.ShortAddress = node.Short
		}
		cfg.Callbacks = net.callbacks(node)

		t, err := tal.New(node.Chip, net.Clock.Node(i), &cfg)
		if err != nil {
			return nil, fmt.Errorf("node %d: %w", i, err)
		}
		node.TAL = t
		net.Nodes = append(net.Nodes, node)
	}
	return net, nil
}

func (net *Network) callbacks(node *Node) tal.Callbacks {
	return tal.Callbacks{
		TxDone: func(id tal.TrxID, status tal.Status, f *tal.Frame) {
			node.TxDone[id] = append(node.TxDone[id], TxResult{Status: status, At: net.Clock.Now()})
		},
		RxFrame: func(id tal.TrxID, f *tal.Frame) {
			node.Received[id] = append(node.Received[id], Reception{
				MPDU: append([]byte(nil), f.MPDU...),
				At:   f.Timestamp,
				ED:   f.ED,
				LQI:  f.LQI,
			})
		},
		EDEnd: func(id tal.TrxID, level uint8) {
			node.ED[id] = append(node.ED[id], level)
			if node.OnED != nil {
				node.OnED(id, level)
			}
		},
		BatteryLow: func(id tal.TrxID) {
			net.log.Warnw("battery low", "node", node.Index, "trx", id)
		},
	}
}

func (net *Network) task() {
	for _, n := range net.Nodes {
		n.TAL.Task()
	}
}

// Run advances virtual time by d, running every node's Task after each event
func (net *Network) Run(d time.Duration) {
	end := net.Clock.Now() + d
	for {
		net.task()
		at, ok := net.Clock.NextEvent()
		if !ok || at > end {
			break
		}
		net.Clock.Step()
	}
	if now := net.Clock.Now(); end > now {
		net.Clock.Advance(end - now)
	}
	net.task()
}

// RunUntil steps until cond holds. It gives up once limit has passed.
func (net *Network) RunUntil(limit time.Duration, cond func() bool) bool {
	end := net.Clock.Now() + limit
	net.task()
	for !cond() {
		at, ok := net.Clock.NextEvent()
		if !ok || at > end {
			return false
		}
		net.Clock.Step()
		net.task()
	}
	return true
}

// Traffic describes a burst of data frames between two nodes
type Traffic struct {
	From, To   int
	Trx        tal.TrxID
	Count      int
	PayloadLen int
	AckRequest bool
	Mode       tal.CSMAMode
	Interval   time.Duration // idle time between frames
}

// Report summarizes a burst
type Report struct {
	Sent      int
	Delivered int
	Status    map[tal.Status]int
	Latency   []time.Duration // TxFrame to TxDone, per frame

	MeanLatency   time.Duration
	StdDevLatency time.Duration
}

// txTimeout bounds one transmission including all retries
const txTimeout = time.Second

// Send runs a burst and waits for every TxDone
func (net *Network) Send(tr Traffic) (*Report, error) {
	if tr.From < 0 || tr.From >= len(net.Nodes) || tr.To < 0 || tr.To >= len(net.Nodes) || tr.From == tr.To {
		return nil, fmt.Errorf("invalid node pair %d -> %d", tr.From, tr.To)
	}
	from, to := net.Nodes[tr.From], net.Nodes[tr.To]
	rxBefore := len(to.Received[tr.Trx])
	rep := &Report{Status: make(map[tal.Status]int)}

	payload := make([]byte, tr.PayloadLen)
	for i := range payload {
		payload[i] = uint8(i)
	}

	for k := 0; k < tr.Count; k++ {
		f := &tal.Frame{MPDU: frame.DataFrame{
			Seq:        uint8(k),
			PANID:      net.PANID,
			Dest:       to.Short,
			Src:        from.Short,
			AckRequest: tr.AckRequest,
			Payload:    payload,
		}.Bytes()}

		done := len(from.TxDone[tr.Trx])
		start := net.Clock.Now()
		if st := from.TAL.TxFrame(tr.Trx, f, tr.Mode, tr.AckRequest); st != tal.Success {
			rep.Status[st]++
			net.log.Warnw("frame rejected", "seq", k, "status", st)
			continue
		}
		rep.Sent++
		if !net.RunUntil(txTimeout, func() bool { return len(from.TxDone[tr.Trx]) > done }) {
			return rep, fmt.Errorf("frame %d: no TxDone within %s", k, txTimeout)
		}
		res := from.TxDone[tr.Trx][done]
		rep.Status[res.Status]++
		rep.Latency = append(rep.Latency, res.At-start)

		if tr.Interval > 0 {
			net.Run(tr.Interval)
		}
	}
	// let the last frame reach the receiver's task
	net.Run(time.Millisecond)

	rep.Delivered = len(to.Received[tr.Trx]) - rxBefore
	rep.summarize()
	return rep, nil
}

func (r *Report) summarize() {
	if len(r.Latency) == 0 {
		return
	}
	xs := make([]float64, len(r.Latency))
	for i, l := range r.Latency {
		xs[i] = float64(l)
	}
	mean, std := stat.MeanStdDev(xs, nil)
	r.MeanLatency = time.Duration(mean)
	if len(xs) > 1 {
		r.StdDevLatency = time.Duration(std)
	}
}

// ErrTimeout is returned by Driver when a condition does not hold within
// its limit
var ErrTimeout = errors.New("simulation limit reached")

// Driver runs the network for callers that wait on a context, such as the
// channel scanner. Limit bounds each RunUntil in virtual time.
type Driver struct {
	Net   *Network
	Limit time.Duration
}

// RunUntil steps the network until cond holds
func (d Driver) RunUntil(ctx context.Context, cond func() bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	limit := d.Limit
	if limit <= 0 {
		limit = time.Second
	}
	if !d.Net.RunUntil(limit, cond) {
		return ErrTimeout
	}
	return nil
}

// Idle advances the network by dur
func (d Driver) Idle(ctx context.Context, dur time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.Net.Run(dur)
	return nil
}

// Now returns the virtual time
func (d Driver) Now() time.Duration {
	return d.Net.Clock.Now()
}
