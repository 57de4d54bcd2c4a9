package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/herlein/gotal/pkg/scanner"
	"github.com/herlein/gotal/pkg/simnet"
	"github.com/herlein/gotal/pkg/tal"
)

func newScanCommand(opts *options) *cobra.Command {
	var (
		node      int
		trxName   string
		channels  []uint
		cycles    int
		threshold uint8
		busy      bool
		scanFile  string
	)
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Survey channels with energy detection on one node",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := scanConfig(scanFile, trxName, channels, threshold, cmd.Flags().Changed("threshold"))
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

			cfg.Logger = opts.log
			cfg.OnChannelBusy = func(i *scanner.ChannelInfo) {
				fmt.Printf("channel %d busy (level %d)\n", i.Channel, i.Level)
			}
			cfg.OnChannelQuiet = func(i *scanner.ChannelInfo) {
				fmt.Printf("channel %d quiet since cycle %d\n", i.Channel, i.LastCycle)
			}
			s, err := scanner.New(n.TAL, simnet.Driver{Net: net, Limit: time.Second}, cfg)
			if err != nil {
				return err
			}
			n.OnED = s.EDEnd

			if busy {
				if len(net.Nodes) < 2 {
					return fmt.Errorf("--busy needs a second node")
				}
				if err := occupyChannel(net, net.Nodes[(node+1)%len(net.Nodes)], cfg.Trx); err != nil {
					return err
				}
			}

			err = s.ScanContinuous(context.Background(), cycles, printScan)
			if err != nil {
				return err
			}
			fmt.Printf("Busy channels: %v\n", s.BusyChannels())
			return nil
		},
	}
	f := cmd.Flags()
	f.IntVar(&node, "node", 0, "scanning node")
	f.StringVar(&trxName, "trx", "rf24", "transceiver: rf09 or rf24")
	f.UintSliceVar(&channels, "channels", nil, "channels to scan (default all)")
	f.IntVarP(&cycles, "cycles", "n", 1, "number of passes")
	f.Uint8Var(&threshold, "threshold", scanner.DefaultThreshold, "busy level 0..255")
	f.BoolVar(&busy, "busy", false, "let another node transmit on its channel during the scan")
	f.StringVarP(&scanFile, "file", "f", "", "scan configuration file (YAML)")
	return cmd
}

// scanConfig builds the scanner configuration from a file or the defaults,
// with flags on top
func scanConfig(path, trxName string, channels []uint, threshold uint8, setThreshold bool) (*scanner.ScanConfig, error) {
	var cfg *scanner.ScanConfig
	if path != "" {
		file, err := scanner.LoadConfigFile(path)
		if err != nil {
			return nil, err
		}
		if cfg, err = file.ToScanConfig(); err != nil {
			return nil, err
		}
	} else {
		id, err := tal.ParseTrxID(trxName)
		if err != nil {
			return nil, err
		}
		cfg = scanner.DefaultConfig(id)
	}
	if len(channels) > 0 {
		cfg.Channels = cfg.Channels[:0]
		for _, ch := range channels {
			cfg.Channels = append(cfg.Channels, uint16(ch))
		}
	}
	if setThreshold || path == "" {
		cfg.Threshold = threshold
	}
	return cfg, cfg.Validate()
}

func printScan(r *scanner.ScanResult) {
	fmt.Printf("Cycle %d on %s (%s)\n", r.Cycle, r.Trx, r.Duration)
	for _, e := range r.Channels {
		mark := ' '
		if e.Busy {
			mark = '*'
		}
		fmt.Printf("  %c ch %2d %4d dBm %3d %s\n", mark, e.Channel, e.DBm(), e.Level, strings.Repeat("#", int(e.Level)/8))
	}
}
