// trx-load: write a saved register configuration to an AT86RF215
//
// The snapshot must come from the same part. With --verify the registers are
// read back and compared.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/herlein/gotal/pkg/cli"
	"github.com/herlein/gotal/pkg/config"
)

func main() {
	var (
		backend string
		verify  bool
		verbose bool
	)
	cmd := &cobra.Command{
		Use:           "trx-load <snapshot-file>",
		Short:         "Apply a saved register configuration",
		Example:       "  trx-load -b usb:#0 --verify etc/at86rf215/usb_009a.yaml",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := cli.NewLogger(verbose)
			if err != nil {
				return err
			}
			defer log.Sync()

			snap, err := config.LoadFromFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			log.Debugw("snapshot loaded", "device", snap.Device, "timestamp", snap.Timestamp,
				"rf09_mhz", snap.FrequencyMHz(0), "rf24_mhz", snap.FrequencyMHz(1))

			b, err := cli.OpenBackend(backend, log)
			if err != nil {
				return err
			}
			defer b.Close()

			if err := config.ApplyToDevice(b.Regs, snap); err != nil {
				return fmt.Errorf("failed to apply configuration: %w", err)
			}
			fmt.Println("Configuration applied successfully")

			if !verify {
				return nil
			}
			readBack, err := config.DumpFromDevice(b.Regs, b.Name)
			if err != nil {
				return fmt.Errorf("failed to read back configuration: %w", err)
			}
			if errs := config.Verify(snap, readBack); len(errs) > 0 {
				for _, e := range errs {
					fmt.Fprintf(os.Stderr, "  - %s\n", e)
				}
				return fmt.Errorf("verification failed with %d error(s)", len(errs))
			}
			fmt.Println("Verification: OK")
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVarP(&backend, "backend", "b", "usb:", cli.BackendUsage)
	f.BoolVar(&verify, "verify", false, "verify configuration after writing")
	f.BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
