package usbbridge

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/gousb"
	"go.uber.org/zap"
)

// Selector identifies a bridge:
//   - ""         : first available bridge
//   - "serial"   : match by serial number (e.g. "009a")
//   - "bus:addr" : match by USB bus and address (e.g. "1:10")
//   - "#N"       : Nth bridge, 0-indexed (e.g. "#0")
type Selector string

type match func(i int, d *Device) bool

// parse turns a selector into a predicate and a description for errors
func (s Selector) parse() (match, string, error) {
	sel := string(s)
	switch {
	case sel == "":
		return func(i int, _ *Device) bool { return i == 0 }, "first bridge", nil

	case strings.HasPrefix(sel, "#"):
		index, err := strconv.Atoi(sel[1:])
		if err != nil || index < 0 {
			return nil, "", fmt.Errorf("invalid device index: %s", sel)
		}
		return func(i int, _ *Device) bool { return i == index }, fmt.Sprintf("bridge #%d", index), nil

	case strings.Contains(sel, ":"):
		parts := strings.SplitN(sel, ":", 2)
		bus, err := strconv.Atoi(parts[0])
		if err != nil {
			return nil, "", fmt.Errorf("invalid bus number: %s", parts[0])
		}
		addr, err := strconv.Atoi(parts[1])
		if err != nil {
			return nil, "", fmt.Errorf("invalid address number: %s", parts[1])
		}
		return func(_ int, d *Device) bool { return d.Bus == bus && d.Address == addr },
			fmt.Sprintf("bridge at bus %d address %d", bus, addr), nil

	default:
		return func(_ int, d *Device) bool { return d.Serial == sel }, fmt.Sprintf("bridge with serial %s", sel), nil
	}
}

// pick keeps the single matching device and closes the rest
func pick(devices []*Device, m match, what string) (*Device, error) {
	if len(devices) == 0 {
		return nil, ErrNoDevice
	}
	var matches []*Device
	for i, d := range devices {
		if m(i, d) {
			matches = append(matches, d)
		} else {
			d.Close()
		}
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("%w: no %s among %d", ErrNoDevice, what, len(devices))
	case 1:
		return matches[0], nil
	default:
		for _, d := range matches {
			d.Close()
		}
		return nil, fmt.Errorf("%d devices match %s; use bus:addr or #N", len(matches), what)
	}
}

// SelectDevice opens the bridge matching the selector
func SelectDevice(ctx *gousb.Context, sel Selector, log *zap.SugaredLogger) (*Device, error) {
	m, what, err := sel.parse()
	if err != nil {
		return nil, err
	}
	devices, err := FindAllDevices(ctx, log)
	if err != nil {
		return nil, err
	}
	return pick(devices, m, what)
}

// FlagUsage describes the selector formats for a -d flag
func FlagUsage() string {
	return `Bridge selector. Formats:
    ""        - first available bridge
    "serial"  - match by serial number (e.g. "009a")
    "bus:addr"- match by USB location (e.g. "1:10")
    "#N"      - Nth bridge, 0-indexed (e.g. "#0")`
}
