// tal-node: run the transceiver layer on real hardware
//
// The node talks to an AT86RF215 over SPI, a USB bridge or a UIO window and
// uses the wall clock platform. Frames are IEEE 802.15.4 data frames with
// short addresses.
//
// Examples:
//
//	# listen on the 2.4 GHz radio and print every frame
//	tal-node -b usb:#0 recv
//
//	# send "Hello World" ten times to node 2, acknowledged
//	tal-node -b usb:#1 --short 1 send --dest 2 --ack -n 10 "Hello World"
//
//	# survey the sub-GHz channels five times
//	tal-node -b uio:/dev/uio0 --trx rf09 scan -n 5
//
//	# send hex data on the sub-GHz radio
//	tal-node -b "spi:?irq=GPIO25&reset=GPIO24" --trx rf09 send --hex DEADBEEF
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/herlein/gotal/pkg/cli"
	"github.com/herlein/gotal/pkg/config"
	"github.com/herlein/gotal/pkg/pal"
	"github.com/herlein/gotal/pkg/tal"
)

// pollInterval bounds how long the main loop sleeps without an event
const pollInterval = time.Millisecond

type options struct {
	backend    string
	configPath string
	trxName    string
	pan        uint16
	short      uint16
	channel    uint16
	verbose    bool
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "tal-node",
		Short:         "Send and receive IEEE 802.15.4 frames with an AT86RF215",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := root.PersistentFlags()
	flags.StringVarP(&opts.backend, "backend", "b", "usb:", cli.BackendUsage)
	flags.StringVarP(&opts.configPath, "config", "c", "", "TAL configuration file (YAML or JSON)")
	flags.StringVar(&opts.trxName, "trx", "rf24", "transceiver: rf09 or rf24")
	flags.Uint16Var(&opts.pan, "pan", 0, "PAN ID (0 keeps the configured one)")
	flags.Uint16Var(&opts.short, "short", 0, "short address (0 keeps the configured one)")
	flags.Uint16Var(&opts.channel, "channel", 0, "channel (0 keeps the configured one)")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(newSendCommand(opts), newRecvCommand(opts), newEDCommand(opts), newScanCommand(opts))
	return root
}

// node is a running TAL with the events its callbacks collected
type node struct {
	id   tal.TrxID
	tal  *tal.TAL
	plat *pal.Host
	log  *zap.SugaredLogger
	pib  tal.PIB

	txDone []tal.Status
	rx     []tal.Frame
	ed     []uint8

	close func()
}

// loadConfig builds the TAL configuration from the file and the flags
func (o *options) loadConfig(id tal.TrxID) (*tal.Config, error) {
	cfg := tal.DefaultConfig()
	if o.configPath != "" {
		var err error
		if cfg, err = config.LoadTALConfig(o.configPath); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", o.configPath, err)
		}
	}
	pib := &cfg.RF24
	if id == tal.RF09 {
		pib = &cfg.RF09
	}
	if o.pan != 0 {
		pib.PANID = o.pan
	}
	if o.short != 0 {
		pib.ShortAddress = o.short
	}
	if o.channel != 0 {
		pib.Channel = o.channel
	}
	return cfg, cfg.Validate()
}

func (o *options) open(mutate func(*tal.Config)) (*node, error) {
	id, err := tal.ParseTrxID(o.trxName)
	if err != nil {
		return nil, err
	}
	cfg, err := o.loadConfig(id)
	if err != nil {
		return nil, err
	}
	log, err := cli.NewLogger(o.verbose)
	if err != nil {
		return nil, err
	}

	b, err := cli.OpenBackend(o.backend, log)
	if err != nil {
		return nil, err
	}
	if err := b.HardwareReset(); err != nil {
		b.Close()
		return nil, fmt.Errorf("reset failed: %w", err)
	}

	n := &node{id: id, plat: pal.NewHost(), log: log}
	cfg.Logger = log
	cfg.Callbacks = tal.Callbacks{
		TxDone: func(_ tal.TrxID, status tal.Status, _ *tal.Frame) {
			n.txDone = append(n.txDone, status)
		},
		RxFrame: func(rid tal.TrxID, f *tal.Frame) {
			if rid != n.id {
				return
			}
			n.rx = append(n.rx, tal.Frame{
				MPDU:      append([]byte(nil), f.MPDU...),
				Timestamp: f.Timestamp,
				ED:        f.ED,
				LQI:       f.LQI,
			})
		},
		EDEnd: func(_ tal.TrxID, level uint8) {
			n.ed = append(n.ed, level)
		},
		BatteryLow: func(rid tal.TrxID) {
			log.Warnw("battery low", "trx", rid)
		},
	}
	if mutate != nil {
		mutate(cfg)
	}

	t, err := tal.New(b.Regs, n.plat, cfg)
	if err != nil {
		b.Close()
		return nil, err
	}
	n.tal = t
	n.pib, _ = t.PIB(id)
	pn, vn := t.Version()
	log.Infow("node up", "backend", b.Name, "part", fmt.Sprintf("0x%02X", pn), "version", vn,
		"trx", id, "pan", fmt.Sprintf("0x%04X", n.pib.PANID), "short", fmt.Sprintf("0x%04X", n.pib.ShortAddress),
		"channel", n.pib.Channel)

	n.close = func() {
		for i := tal.TrxID(0); i < tal.NumTrx; i++ {
			t.Sleep(i)
		}
		b.Close()
		log.Sync()
	}
	return n, nil
}

// run is the main loop: platform timers, then the TAL task, until done
// reports true or ctx ends
func (n *node) run(ctx context.Context, done func() bool) error {
	for {
		n.plat.Poll()
		n.tal.Task()
		if done() {
			return nil
		}
		if err := n.plat.Wait(ctx, pollInterval); err != nil {
			return err
		}
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
