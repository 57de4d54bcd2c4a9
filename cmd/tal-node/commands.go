package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/herlein/gotal/pkg/frame"
	"github.com/herlein/gotal/pkg/tal"
)

// txTimeout bounds one TxFrame call including all retries
const txTimeout = 2 * time.Second

func newSendCommand(opts *options) *cobra.Command {
	var (
		hexStr   string
		dest     uint16
		count    int
		ack      bool
		modeName string
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "send [text]",
		Short: "Send data frames",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := ""
			if len(args) == 1 {
				text = args[0]
			}
			payload, err := parsePayload(text, hexStr)
			if err != nil {
				return err
			}
			mode, err := tal.ParseCSMAMode(modeName)
			if err != nil {
				return err
			}

			n, err := opts.open(nil)
			if err != nil {
				return err
			}
			defer n.close()

			ctx, cancel := signalContext()
			defer cancel()

			failures := 0
			for k := 0; k < count; k++ {
				f := &tal.Frame{MPDU: frame.DataFrame{
					Seq:        uint8(k),
					PANID:      n.pib.PANID,
					Dest:       dest,
					Src:        n.pib.ShortAddress,
					AckRequest: ack,
					Payload:    payload,
				}.Bytes()}

				before := len(n.txDone)
				if st := n.tal.TxFrame(n.id, f, mode, ack); st != tal.Success {
					return fmt.Errorf("frame %d rejected: %s", k, st)
				}
				deadline := time.Now().Add(txTimeout)
				err := n.run(ctx, func() bool { return len(n.txDone) > before || time.Now().After(deadline) })
				if err != nil {
					return err
				}
				if len(n.txDone) == before {
					return fmt.Errorf("frame %d: no result within %s", k, txTimeout)
				}

				st := n.txDone[before]
				if st != tal.Success {
					failures++
				}
				fmt.Printf("Frame %d (%d bytes) to 0x%04X: %s\n", k, len(payload), dest, st)

				if interval > 0 && k+1 < count {
					until := time.Now().Add(interval)
					if err := n.run(ctx, func() bool { return time.Now().After(until) }); err != nil {
						return err
					}
				}
			}
			if failures > 0 {
				return fmt.Errorf("%d of %d frames failed", failures, count)
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&hexStr, "hex", "", "payload as hex instead of text")
	f.Uint16Var(&dest, "dest", frame.BroadcastAddr, "destination short address")
	f.IntVarP(&count, "count", "n", 1, "number of frames")
	f.BoolVar(&ack, "ack", false, "request acknowledgments and retry")
	f.StringVar(&modeName, "mode", "csma", "channel access: csma, ifs or no-csma")
	f.DurationVar(&interval, "interval", 100*time.Millisecond, "pause between frames")
	return cmd
}

// parsePayload takes the text argument or the hex flag, not both
func parsePayload(text, hexStr string) ([]byte, error) {
	switch {
	case text != "" && hexStr != "":
		return nil, errors.New("give either text or --hex")
	case hexStr != "":
		data, err := hex.DecodeString(strings.ReplaceAll(hexStr, " ", ""))
		if err != nil {
			return nil, fmt.Errorf("invalid hex string: %w", err)
		}
		if len(data) == 0 {
			return nil, errors.New("no data to send")
		}
		return data, nil
	case text != "":
		return []byte(text), nil
	default:
		return nil, errors.New("no data to send")
	}
}

func newRecvCommand(opts *options) *cobra.Command {
	var (
		count       int
		raw         bool
		promiscuous bool
	)
	cmd := &cobra.Command{
		Use:   "recv",
		Short: "Print received frames until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := opts.open(nil)
			if err != nil {
				return err
			}
			defer n.close()

			if promiscuous {
				if st := n.tal.SetPIB(n.id, tal.AttrPromiscuousMode, true); st != tal.Success {
					return fmt.Errorf("promiscuous mode: %s", st)
				}
			}

			ctx, cancel := signalContext()
			defer cancel()

			if !raw {
				fmt.Println("Listening for frames (Ctrl+C to stop)...")
				fmt.Println()
			}
			start := time.Now()
			printed := 0
			err = n.run(ctx, func() bool {
				for ; printed < len(n.rx); printed++ {
					printFrame(printed+1, &n.rx[printed], raw)
				}
				return count > 0 && printed >= count
			})
			if !raw {
				fmt.Printf("\nReceived %d frames in %v\n", printed, time.Since(start).Round(time.Second))
			}
			if ctx.Err() != nil {
				return nil
			}
			return err
		},
	}
	f := cmd.Flags()
	f.IntVarP(&count, "count", "n", 0, "stop after this many frames (0 = until interrupted)")
	f.BoolVar(&raw, "raw", false, "print raw hex only (for piping)")
	f.BoolVar(&promiscuous, "promiscuous", false, "receive every frame regardless of address")
	return cmd
}

func printFrame(num int, f *tal.Frame, raw bool) {
	if raw {
		fmt.Println(hex.EncodeToString(f.MPDU))
		return
	}
	fmt.Printf("[%s] Frame #%d (%d bytes):\n", time.Now().Format("15:04:05.000"), num, len(f.MPDU))
	fmt.Printf("  ED: %d dBm, LQI: %d, Seq: %d\n", f.ED, f.LQI, frame.Seq(f.MPDU))
	if dst, err := frame.Destination(f.MPDU); err == nil && dst.Mode == frame.AddrShort {
		fmt.Printf("  Dest: 0x%04X/0x%04X\n", dst.PANID, dst.Short)
	}
	fmt.Printf("  Hex: %s\n", hex.EncodeToString(f.MPDU))
	fmt.Printf("  ASCII: %s\n", makePrintable(f.MPDU))
	fmt.Println()
}

// makePrintable replaces non-printable bytes with '.'
func makePrintable(data []byte) string {
	result := make([]byte, len(data))
	for i, b := range data {
		if b >= 32 && b < 127 {
			result[i] = b
		} else {
			result[i] = '.'
		}
	}
	return string(result)
}

func newEDCommand(opts *options) *cobra.Command {
	var (
		duration time.Duration
		count    int
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "ed",
		Short: "Measure channel energy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := opts.open(nil)
			if err != nil {
				return err
			}
			defer n.close()

			ctx, cancel := signalContext()
			defer cancel()

			for k := 0; k < count; k++ {
				before := len(n.ed)
				if st := n.tal.EDStart(n.id, duration); st != tal.Success {
					return fmt.Errorf("EDStart: %s", st)
				}
				if err := n.run(ctx, func() bool { return len(n.ed) > before }); err != nil {
					return err
				}
				fmt.Printf("Channel %d energy level: %3d %s\n", n.pib.Channel, n.ed[before], bar(n.ed[before]))

				until := time.Now().Add(interval)
				if err := n.run(ctx, func() bool { return time.Now().After(until) }); err != nil {
					return err
				}
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.DurationVar(&duration, "duration", 128*time.Microsecond, "measurement duration")
	f.IntVarP(&count, "count", "n", 10, "number of measurements")
	f.DurationVar(&interval, "interval", 100*time.Millisecond, "pause between measurements")
	return cmd
}

func bar(level uint8) string {
	return strings.Repeat("#", int(level)/8)
}
