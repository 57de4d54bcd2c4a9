package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/herlein/gotal/pkg/scanner"
	"github.com/herlein/gotal/pkg/tal"
)

// edTimeout bounds one ED measurement on hardware
const edTimeout = time.Second

// loop adapts the node main loop for the scanner
type loop struct {
	n *node
}

func (l loop) RunUntil(ctx context.Context, cond func() bool) error {
	ctx, cancel := context.WithTimeout(ctx, edTimeout)
	defer cancel()
	return l.n.run(ctx, cond)
}

func (l loop) Idle(ctx context.Context, d time.Duration) error {
	until := l.n.plat.Now() + d
	return l.n.run(ctx, func() bool { return l.n.plat.Now() >= until })
}

func (l loop) Now() time.Duration {
	return l.n.plat.Now()
}

func newScanCommand(opts *options) *cobra.Command {
	var (
		channels  []uint
		cycles    int
		threshold uint8
		dwell     time.Duration
		interval  time.Duration
		scanFile  string
		save      string
	)
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Survey channels with energy detection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.scanConfig(scanFile, channels)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("threshold") || scanFile == "" {
				cfg.Threshold = threshold
			}
			if flags.Changed("dwell") || scanFile == "" {
				cfg.DwellTime = dwell
			}
			if flags.Changed("interval") || scanFile == "" {
				cfg.ScanInterval = interval
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if save != "" {
				if err := scanner.NewConfigFile("tal-node", cfg).Save(save); err != nil {
					return err
				}
			}

			var s *scanner.Scanner
			n, err := opts.open(func(c *tal.Config) {
				prev := c.Callbacks.EDEnd
				c.Callbacks.EDEnd = func(id tal.TrxID, level uint8) {
					prev(id, level)
					if s != nil {
						s.EDEnd(id, level)
					}
				}
			})
			if err != nil {
				return err
			}
			defer n.close()

			cfg.Logger = n.log
			cfg.OnChannelBusy = func(i *scanner.ChannelInfo) {
				n.log.Infow("channel busy", "channel", i.Channel, "level", i.Level)
			}
			cfg.OnChannelQuiet = func(i *scanner.ChannelInfo) {
				n.log.Infow("channel quiet", "channel", i.Channel, "max_level", i.MaxLevel, "detections", i.DetectionCount)
			}
			if s, err = scanner.New(n.tal, loop{n}, cfg); err != nil {
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()

			err = s.ScanContinuous(ctx, cycles, func(r *scanner.ScanResult) {
				fmt.Printf("Cycle %d (%s)\n", r.Cycle, r.Duration)
				for _, e := range r.Channels {
					fmt.Printf("  ch %2d %4d dBm %3d %s\n", e.Channel, e.DBm(), e.Level, bar(e.Level))
				}
				if q, ok := r.Quietest(); ok {
					fmt.Printf("  quietest: %d\n", q.Channel)
				}
			})
			if err != nil {
				return err
			}
			fmt.Printf("Busy channels: %v\n", s.BusyChannels())
			return nil
		},
	}
	f := cmd.Flags()
	f.UintSliceVar(&channels, "channels", nil, "channels to scan (default all)")
	f.IntVarP(&cycles, "cycles", "n", 1, "number of passes, 0 until interrupted")
	f.Uint8Var(&threshold, "threshold", scanner.DefaultThreshold, "busy level 0..255")
	f.DurationVar(&dwell, "dwell", scanner.DefaultDwellTime, "measurement time per channel")
	f.DurationVar(&interval, "interval", scanner.DefaultScanInterval, "pause between passes")
	f.StringVarP(&scanFile, "file", "f", "", "scan configuration file (YAML)")
	f.StringVar(&save, "save", "", "write the effective scan configuration to this file")
	return cmd
}

// scanConfig starts from the file or from every channel of --trx
func (o *options) scanConfig(path string, channels []uint) (*scanner.ScanConfig, error) {
	var cfg *scanner.ScanConfig
	if path != "" {
		file, err := scanner.LoadConfigFile(path)
		if err != nil {
			return nil, err
		}
		if cfg, err = file.ToScanConfig(); err != nil {
			return nil, err
		}
		o.trxName = cfg.Trx.String()
	} else {
		id, err := tal.ParseTrxID(o.trxName)
		if err != nil {
			return nil, err
		}
		cfg = scanner.DefaultConfig(id)
	}
	if len(channels) > 0 {
		cfg.Channels = make([]uint16, 0, len(channels))
		for _, ch := range channels {
			cfg.Channels = append(cfg.Channels, uint16(ch))
		}
	}
	return cfg, nil
}
