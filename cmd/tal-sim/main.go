// tal-sim: run the transceiver layer on simulated AT86RF215 chips
//
// Every node is a complete TAL instance on its own simulated chip. All nodes
// share one virtual clock and one radio medium, so runs are deterministic.
//
// Examples:
//
//	# 100 acknowledged frames from node 0 to node 1 on the 2.4 GHz radio
//	tal-sim burst -n 100 --ack
//
//	# same, with a configuration file and the chip trace
//	tal-sim -c etc/tal.yaml burst --trx rf09 --trace
//
//	# survey the 2.4 GHz channels while node 1 transmits
//	tal-sim scan --busy -n 3
//
//	# print the default configuration
//	tal-sim config > etc/tal.yaml
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/herlein/gotal/pkg/cli"
	"github.com/herlein/gotal/pkg/config"
	"github.com/herlein/gotal/pkg/simnet"
	"github.com/herlein/gotal/pkg/tal"
)

type options struct {
	verbose    bool
	configPath string
	nodes      int

	log *zap.SugaredLogger
	cfg *tal.Config
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
		Use:           "tal-sim",
		Short:         "Run the AT86RF215 transceiver layer on simulated chips",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.setup()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if opts.log != nil {
				_ = opts.log.Sync()
			}
		},
	}

	flags := root.PersistentFlags()
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")
	flags.StringVarP(&opts.configPath, "config", "c", "", "TAL configuration file (YAML or JSON)")
	flags.IntVar(&opts.nodes, "nodes", 2, "number of simulated nodes")

	root.AddCommand(
		newBurstCommand(opts),
		newEDCommand(opts),
		newScanCommand(opts),
		newSleepCommand(opts),
		newConfigCommand(opts),
	)
	return root
}

func (o *options) setup() error {
	log, err := cli.NewLogger(o.verbose)
	if err != nil {
		return err
	}
	o.log = log

	o.cfg = tal.DefaultConfig()
	if o.configPath != "" {
		if o.cfg, err = config.LoadTALConfig(o.configPath); err != nil {
			return fmt.Errorf("failed to load %s: %w", o.configPath, err)
		}
	}
	return nil
}

func (o *options) network() (*simnet.Network, error) {
	return simnet.New(o.nodes, o.cfg, o.log)
}
