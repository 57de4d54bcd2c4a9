// trx-dump: save the register configuration of an AT86RF215
//
// The transceivers are parked in TRXOFF while the registers are read and
// returned to their state afterwards. The snapshot can be written back with
// trx-load.
//
// Examples:
//
//	trx-dump -b usb:#0
//	trx-dump -b "spi:/dev/spidev0.0?irq=GPIO25" -o etc/at86rf215/node1.json
//	trx-dump -b usb: --stdout
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/herlein/gotal/pkg/cli"
	"github.com/herlein/gotal/pkg/config"
)

func main() {
	var (
		backend string
		output  string
		stdout  bool
		verbose bool
	)
	cmd := &cobra.Command{
		Use:           "trx-dump",
		Short:         "Save the AT86RF215 register configuration to a file",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := cli.NewLogger(verbose)
			if err != nil {
				return err
			}
			defer log.Sync()

			b, err := cli.OpenBackend(backend, log)
			if err != nil {
				return err
			}
			defer b.Close()
			log.Debugw("connected", "backend", b.Name)

			snap, err := config.DumpFromDevice(b.Regs, b.Name)
			if err != nil {
				return fmt.Errorf("failed to dump configuration: %w", err)
			}

			if stdout {
				data, err := json.MarshalIndent(snap, "", "  ")
				if err != nil {
					return fmt.Errorf("failed to marshal configuration: %w", err)
				}
				fmt.Println(string(data))
				return nil
			}

			path := output
			if path == "" {
				path = config.GetConfigPath(b.Name)
			}
			if err := config.SaveToFile(snap, path); err != nil {
				return fmt.Errorf("failed to save configuration: %w", err)
			}
			fmt.Printf("Configuration saved to: %s\n", path)
			if verbose {
				printSummary(snap)
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVarP(&backend, "backend", "b", "usb:", cli.BackendUsage)
	f.StringVarP(&output, "output", "o", "", "output file (default etc/at86rf215/<device>.yaml)")
	f.BoolVar(&stdout, "stdout", false, "print the snapshot as JSON instead of saving it")
	f.BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printSummary(s *config.Snapshot) {
	fmt.Println("\nConfiguration Summary:")
	fmt.Printf("  Part:         0x%02X version %d\n", s.PartNum, s.Version)
	for i, name := range []string{"RF09", "RF24"} {
		fmt.Printf("  %s:\n", name)
		fmt.Printf("    Frequency:  %.3f MHz (channel %d)\n", s.FrequencyMHz(i), s.Channel(i))
		fmt.Printf("    State:      %s\n", s.StateString(i))
		fmt.Printf("    PAN ID:     0x%04X\n", s.PANID(i))
		fmt.Printf("    Short:      0x%04X\n", s.ShortAddress(i))
	}
}
