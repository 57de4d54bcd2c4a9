package main

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/herlein/gotal/pkg/frame"
	"github.com/herlein/gotal/pkg/simnet"
	"github.com/herlein/gotal/pkg/tal"
)

func newBurstCommand(opts *options) *cobra.Command {
	var (
		tr       simnet.Traffic
		trxName  string
		modeName string
		trace    bool
	)
	cmd := &cobra.Command{
		Use:   "burst",
		Short: "Send a burst of data frames between two nodes",
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if tr.Trx, err = tal.ParseTrxID(trxName); err != nil {
				return err
			}
			if tr.Mode, err = tal.ParseCSMAMode(modeName); err != nil {
				return err
			}
			net, err := opts.network()
			if err != nil {
				return err
			}

			rep, err := net.Send(tr)
			if err != nil {
				return err
			}
			printReport(tr, rep)
			if trace {
				printTrace(net, tr.Trx)
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.IntVar(&tr.From, "from", 0, "sending node")
	f.IntVar(&tr.To, "to", 1, "receiving node")
	f.StringVar(&trxName, "trx", "rf24", "transceiver: rf09 or rf24")
	f.IntVarP(&tr.Count, "count", "n", 10, "number of frames")
	f.IntVar(&tr.PayloadLen, "len", 20, "payload length in bytes")
	f.BoolVar(&tr.AckRequest, "ack", false, "request acknowledgments and retry")
	f.StringVar(&modeName, "mode", "csma", "channel access: csma, ifs or no-csma")
	f.DurationVar(&tr.Interval, "interval", time.Millisecond, "idle time between frames")
	f.BoolVar(&trace, "trace", false, "print the chip trace of both nodes")
	return cmd
}

func printReport(tr simnet.Traffic, rep *simnet.Report) {
	fmt.Printf("Burst %d -> %d on %s (%s, ack=%v)\n", tr.From, tr.To, tr.Trx, tr.Mode, tr.AckRequest)
	fmt.Printf("  Sent:       %d\n", rep.Sent)
	fmt.Printf("  Delivered:  %d\n", rep.Delivered)

	statuses := make([]tal.Status, 0, len(rep.Status))
	for st := range rep.Status {
		statuses = append(statuses, st)
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i] < statuses[j] })
	for _, st := range statuses {
		fmt.Printf("  %-28s %d\n", st.String()+":", rep.Status[st])
	}
	fmt.Printf("  Latency:    %s mean, %s stddev\n", rep.MeanLatency, rep.StdDevLatency)
}

func printTrace(net *simnet.Network, id tal.TrxID) {
	for _, n := range net.Nodes {
		fmt.Printf("\nNode %d trace:\n", n.Index)
		for _, e := range n.Chip.Trace() {
			if e.Radio != int(id) {
				continue
			}
			if len(e.MPDU) > frame.SeqOffset {
				fmt.Printf("  %12s  %-10s seq=%d len=%d\n", e.At, e.Kind, frame.Seq(e.MPDU), len(e.MPDU))
			} else {
				fmt.Printf("  %12s  %s\n", e.At, e.Kind)
			}
		}
	}
}

func newEDCommand(opts *options) *cobra.Command {
	var (
		node     int
		trxName  string
		duration time.Duration
		busy     bool
	)
	cmd := &cobra.Command{
		Use:   "ed",
		Short: "Run an energy detection scan on one node",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := tal.ParseTrxID(trxName)
			if err != nil {
				return err
			}
			net, err := opts.network()
			if err != nil {
				return err
			}
			if node < 0 || node >= len(net.Nodes) {
				return fmt.Errorf("no node %d", node)
			}
			n := net.Nodes[node]

			if busy {
				if len(net.Nodes) < 2 {
					return fmt.Errorf("--busy needs a second node")
				}
				if err := occupyChannel(net, net.Nodes[(node+1)%len(net.Nodes)], id); err != nil {
					return err
				}
			}

			if st := n.TAL.EDStart(id, duration); st != tal.Success {
				return fmt.Errorf("EDStart: %s", st)
			}
			if !net.RunUntil(time.Second, func() bool { return len(n.ED[id]) > 0 }) {
				return fmt.Errorf("no ED result")
			}
			fmt.Printf("Node %d %s energy level: %d\n", node, id, n.ED[id][0])
			return nil
		},
	}
	f := cmd.Flags()
	f.IntVar(&node, "node", 0, "scanning node")
	f.StringVar(&trxName, "trx", "rf24", "transceiver: rf09 or rf24")
	f.DurationVar(&duration, "duration", 128*time.Microsecond, "scan duration")
	f.BoolVar(&busy, "busy", false, "let another node transmit during the scan")
	return cmd
}

// occupyChannel starts a maximum length frame without CCA and runs until it
// is on air
func occupyChannel(net *simnet.Network, n *simnet.Node, id tal.TrxID) error {
	payload := make([]byte, frame.MaxPHYPacketSize-9-frame.FCSLen16)
	f := &tal.Frame{MPDU: frame.DataFrame{
		PANID: net.PANID, Dest: frame.BroadcastAddr, Src: n.Short, Payload: payload,
	}.Bytes()}
	if st := n.TAL.TxFrame(id, f, tal.NoCSMANoIFS, false); st != tal.Success {
		return fmt.Errorf("TxFrame: %s", st)
	}
	radio := n.Chip.Radio(int(id))
	if !net.RunUntil(time.Millisecond, radio.Transmitting) {
		return fmt.Errorf("node %d did not start sending", n.Index)
	}
	return nil
}

func newSleepCommand(opts *options) *cobra.Command {
	var (
		node  int
		both  bool
		sleep time.Duration
	)
	cmd := &cobra.Command{
		Use:   "sleep",
		Short: "Put a node to sleep, wake it up and check its PIB",
		RunE: func(cmd *cobra.Command, args []string) error {
			net, err := opts.network()
			if err != nil {
				return err
			}
			if node < 0 || node >= len(net.Nodes) {
				return fmt.Errorf("no node %d", node)
			}
			n := net.Nodes[node]

			ids := []tal.TrxID{tal.RF24}
			if both {
				ids = []tal.TrxID{tal.RF09, tal.RF24}
			}
			before := make(map[tal.TrxID]tal.PIB)
			for _, id := range ids {
				before[id], _ = n.TAL.PIB(id)
				if st := n.TAL.Sleep(id); st != tal.Success {
					return fmt.Errorf("Sleep %s: %s", id, st)
				}
				fmt.Printf("%s: %s\n", id, n.TAL.State(id))
			}
			fmt.Printf("Deep sleep: %v\n", n.Chip.DeepSleep())

			net.Run(sleep)

			for _, id := range ids {
				start := net.Clock.Now()
				if st := n.TAL.Wakeup(id); st != tal.Success {
					return fmt.Errorf("Wakeup %s: %s", id, st)
				}
				after, _ := n.TAL.PIB(id)
				fmt.Printf("%s: %s after %s, PIB restored: %v\n",
					id, n.TAL.State(id), net.Clock.Now()-start, after == before[id])
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.IntVar(&node, "node", 0, "node to put to sleep")
	f.BoolVar(&both, "both", true, "sleep both transceivers, entering deep sleep")
	f.DurationVar(&sleep, "for", 10*time.Millisecond, "time asleep")
	return cmd
}

func newConfigCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective TAL configuration as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			enc := yaml.NewEncoder(os.Stdout)
			enc.SetIndent(2)
			if err := enc.Encode(opts.cfg); err != nil {
				return fmt.Errorf("failed to encode configuration: %w", err)
			}
			return enc.Close()
		},
	}
}
