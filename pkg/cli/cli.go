// Package cli holds what the commands share: logger setup and opening a
// register backend by name.
package cli

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/gousb"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/herlein/gotal/pkg/trx"
	"github.com/herlein/gotal/pkg/trx/mmio"
	"github.com/herlein/gotal/pkg/trx/spi"
	"github.com/herlein/gotal/pkg/trx/usbbridge"
)

// BackendUsage describes the -b flag
const BackendUsage = `register backend:
    spi:PORT?irq=PIN&reset=PIN&hz=N  SPI bus (PORT may be empty)
    usb:SELECTOR                     USB bridge ("", serial, bus:addr or #N)
    uio:/dev/uioN?map=N              memory mapped window`

// NewLogger returns a console logger, at debug level when verbose
func NewLogger(verbose bool) (*zap.SugaredLogger, error) {
	cfg := zap.NewDevelopmentConfig()
	cfg.DisableStacktrace = true
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	if !verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	l, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return l.Sugar(), nil
}

// Backend is an opened register backend
type Backend struct {
	Name string
	Regs trx.Registers

	close func() error
	reset func() error
}

// Close releases the backend
func (b *Backend) Close() error {
	if b.close == nil {
		return nil
	}
	return b.close()
}

// HardwareReset pulses RSTN when the backend drives it and falls back to the
// RF_RST chip reset command otherwise
func (b *Backend) HardwareReset() error {
	if b.reset != nil {
		return b.reset()
	}
	return trx.ResetChip(b.Regs)
}

type backendTarget struct {
	kind  string
	path  string
	query url.Values
}

func parseBackend(name string) (backendTarget, error) {
	kind, rest, ok := strings.Cut(name, ":")
	if !ok {
		return backendTarget{}, fmt.Errorf("backend %q: expected kind:address", name)
	}
	target := backendTarget{kind: kind, path: rest, query: url.Values{}}
	if kind == "usb" {
		// selectors may contain '#', which is not a URL fragment here
		return target, nil
	}
	if path, query, ok := strings.Cut(rest, "?"); ok {
		q, err := url.ParseQuery(query)
		if err != nil {
			return backendTarget{}, fmt.Errorf("backend %q: %w", name, err)
		}
		target.path, target.query = path, q
	}
	switch kind {
	case "spi", "uio":
	default:
		return backendTarget{}, fmt.Errorf("backend %q: unknown kind %q", name, kind)
	}
	return target, nil
}

// OpenBackend opens a backend described by name, see BackendUsage
func OpenBackend(name string, log *zap.SugaredLogger) (*Backend, error) {
	target, err := parseBackend(name)
	if err != nil {
		return nil, err
	}

	switch target.kind {
	case "spi":
		opts := spi.Options{
			Port:   target.path,
			IRQ:    target.query.Get("irq"),
			Reset:  target.query.Get("reset"),
			Logger: log,
		}
		if hz := target.query.Get("hz"); hz != "" {
			n, err := strconv.ParseInt(hz, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid SPI clock %q: %w", hz, err)
			}
			opts.Speed = spi.Hertz(n)
		}
		d, err := spi.Open(opts)
		if err != nil {
			return nil, err
		}
		return &Backend{Name: name, Regs: d, close: d.Close, reset: d.HardwareReset}, nil

	case "usb":
		ctx := gousb.NewContext()
		d, err := usbbridge.SelectDevice(ctx, usbbridge.Selector(target.path), log)
		if err != nil {
			ctx.Close()
			return nil, err
		}
		return &Backend{
			Name: "usb:" + d.Serial,
			Regs: d,
			close: func() error {
				err := d.Close()
				if cerr := ctx.Close(); err == nil {
					err = cerr
				}
				return err
			},
			reset: d.HardwareReset,
		}, nil

	default:
		index := 0
		if m := target.query.Get("map"); m != "" {
			if index, err = strconv.Atoi(m); err != nil {
				return nil, fmt.Errorf("invalid map index %q: %w", m, err)
			}
		}
		d, err := mmio.Open(target.path, index, log)
		if err != nil {
			return nil, err
		}
		return &Backend{Name: name, Regs: d, close: d.Close}, nil
	}
}
