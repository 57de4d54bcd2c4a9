// trx-reset resets the transceiver chip, or with --usb the bridge itself to
// recover from USB errors
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/google/gousb"
	"github.com/spf13/cobra"

	"github.com/herlein/gotal/pkg/cli"
	"github.com/herlein/gotal/pkg/trx"
	"github.com/herlein/gotal/pkg/trx/usbbridge"
)

func main() {
	var (
		backend string
		usb     bool
		verbose bool
	)
	cmd := &cobra.Command{
		Use:           "trx-reset",
		Short:         "Reset the AT86RF215 or its USB bridge",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if usb {
				return resetBridges()
			}

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

			if err := b.HardwareReset(); err != nil {
				return fmt.Errorf("reset failed: %w", err)
			}
			time.Sleep(time.Millisecond)
			pn, vn, err := trx.PartNumber(b.Regs)
			if err != nil {
				return fmt.Errorf("no answer after reset: %w", err)
			}
			fmt.Printf("Reset OK: part 0x%02X version %d\n", pn, vn)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVarP(&backend, "backend", "b", "usb:", cli.BackendUsage)
	f.BoolVar(&usb, "usb", false, "USB port reset of every bridge instead of a chip reset")
	f.BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func resetBridges() error {
	ctx := gousb.NewContext()
	defer ctx.Close()

	// Try multiple times, a bridge in a bad state may not enumerate at once
	for attempt := 0; attempt < 3; attempt++ {
		devs, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
			return desc.Vendor == gousb.ID(usbbridge.VendorID) && desc.Product == gousb.ID(usbbridge.ProductID)
		})
		if err != nil && len(devs) == 0 {
			fmt.Printf("Attempt %d: Error finding devices: %v\n", attempt+1, err)
			time.Sleep(time.Second)
			continue
		}
		if len(devs) == 0 {
			fmt.Printf("Attempt %d: No devices found\n", attempt+1)
			time.Sleep(time.Second)
			continue
		}

		fmt.Printf("Found %d device(s)\n", len(devs))
		for i, dev := range devs {
			serial, _ := dev.SerialNumber()
			fmt.Printf("  Device %d: %s\n", i, serial)
			if err := dev.Reset(); err != nil {
				fmt.Printf("    Reset failed: %v\n", err)
			} else {
				fmt.Printf("    Reset OK\n")
			}
			dev.Close()
		}
		return nil
	}
	return fmt.Errorf("failed to find bridges after 3 attempts")
}
