// lsbridge: list the connected USB bridges
package main

import (
	"fmt"
	"os"

	"github.com/google/gousb"
	"github.com/spf13/cobra"

	"github.com/herlein/gotal/pkg/cli"
	"github.com/herlein/gotal/pkg/trx"
	"github.com/herlein/gotal/pkg/trx/usbbridge"
)

func main() {
	var verbose bool
	cmd := &cobra.Command{
		Use:           "lsbridge",
		Short:         "List the connected AT86RF215 USB bridges",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := cli.NewLogger(false)
			if err != nil {
				return err
			}
			ctx := gousb.NewContext()
			defer ctx.Close()

			devices, err := usbbridge.FindAllDevices(ctx, log)
			if err != nil {
				return fmt.Errorf("failed to enumerate devices: %w", err)
			}
			if len(devices) == 0 {
				fmt.Println("No bridges found")
				return nil
			}

			fmt.Printf("Found %d bridge(s):\n\n", len(devices))
			for i, d := range devices {
				defer d.Close()
				if verbose {
					printDetails(i, d)
				} else {
					fmt.Printf("  #%d  %s  %d:%d\n", i, d.Serial, d.Bus, d.Address)
				}
			}

			if !verbose {
				fmt.Println()
				fmt.Println("Use -b with other tools to select a bridge:")
				fmt.Println("  -b \"usb:#0\"     Select by index")
				fmt.Println("  -b \"usb:1:10\"   Select by bus:address")
				fmt.Println("  -b \"usb:009a\"   Select by serial (if unique)")
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "show firmware and chip details")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printDetails(i int, d *usbbridge.Device) {
	fmt.Printf("Bridge #%d:\n", i)
	fmt.Printf("  Serial:       %s\n", d.Serial)
	fmt.Printf("  Bus:Address:  %d:%d\n", d.Bus, d.Address)
	fmt.Printf("  Manufacturer: %s\n", d.Manufacturer)
	fmt.Printf("  Product:      %s\n", d.Product)

	if build, err := d.BuildType(); err == nil {
		fmt.Printf("  Firmware:     %s\n", build)
	} else {
		fmt.Printf("  Firmware:     (error: %v)\n", err)
	}

	if pn, vn, err := trx.PartNumber(d); err == nil {
		fmt.Printf("  Chip:         %s (0x%02X) version %d\n", partName(pn), pn, vn)
	} else {
		fmt.Printf("  Chip:         (error: %v)\n", err)
	}
	fmt.Println()
}

func partName(pn uint8) string {
	switch pn {
	case trx.PartNumAT86RF215:
		return "AT86RF215"
	case trx.PartNumAT86RF215IQ:
		return "AT86RF215IQ"
	case trx.PartNumAT86RF215M:
		return "AT86RF215M"
	default:
		return "Unknown"
	}
}
