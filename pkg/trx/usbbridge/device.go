// Package usbbridge talks to an AT86RF215 behind a USB-to-SPI bridge. The
// bridge firmware speaks a small framed protocol on bulk endpoint 5 and
// forwards register bursts to the transceiver.
package usbbridge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/gousb"
	"go.uber.org/zap"

	"github.com/herlein/gotal/pkg/trx"
)

type inEndpoint interface {
	ReadContext(ctx context.Context, buf []byte) (int, error)
}

type outEndpoint interface {
	WriteContext(ctx context.Context, buf []byte) (int, error)
}

// Device is one opened bridge. It implements trx.Registers and
// trx.IRQSource.
type Device struct {
	usbDevice    *gousb.Device
	usbConfig    *gousb.Config
	usbInterface *gousb.Interface
	epIn         inEndpoint
	epOut        outEndpoint
	Serial       string
	Manufacturer string
	Product      string
	Bus          int
	Address      int
	log          *zap.SugaredLogger

	mu      sync.Mutex // one command in flight
	recvBuf []byte
	closed  bool

	irqMu   sync.Mutex
	handler func()
	stop    chan struct{}
	done    chan struct{}
}

// FindAllDevices opens every connected bridge
func FindAllDevices(ctx *gousb.Context, log *zap.SugaredLogger) ([]*Device, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	usbDevices, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return desc.Vendor == gousb.ID(VendorID) && desc.Product == gousb.ID(ProductID)
	})
	if err != nil && len(usbDevices) == 0 {
		return nil, fmt.Errorf("failed to enumerate devices: %w", err)
	}

	devices := []*Device{}
	for _, usbDev := range usbDevices {
		device, err := wrapDevice(usbDev, log)
		if err != nil {
			log.Warnw("skipping bridge", "bus", usbDev.Desc.Bus, "address", usbDev.Desc.Address, "error", err)
			usbDev.Close()
			continue
		}
		devices = append(devices, device)
	}
	return devices, nil
}

func wrapDevice(usbDev *gousb.Device, log *zap.SugaredLogger) (*Device, error) {
	manufacturer, _ := usbDev.Manufacturer()
	product, _ := usbDev.Product()
	serial, _ := usbDev.SerialNumber()

	usbDev.SetAutoDetach(true)

	config, err := usbDev.Config(1)
	if err != nil {
		return nil, fmt.Errorf("failed to get configuration: %w", err)
	}

	iface, err := config.Interface(0, 0)
	if err != nil {
		config.Close()
		return nil, fmt.Errorf("failed to claim interface: %w", err)
	}

	epIn, err := iface.InEndpoint(EPNumber)
	if err != nil {
		iface.Close()
		config.Close()
		return nil, fmt.Errorf("failed to get IN endpoint: %w", err)
	}

	epOut, err := iface.OutEndpoint(EPNumber)
	if err != nil {
		iface.Close()
		config.Close()
		return nil, fmt.Errorf("failed to get OUT endpoint: %w", err)
	}

	desc := usbDev.Desc
	d := newDevice(epIn, epOut, log)
	d.usbDevice = usbDev
	d.usbConfig = config
	d.usbInterface = iface
	d.Serial = serial
	d.Manufacturer = manufacturer
	d.Product = product
	d.Bus = desc.Bus
	d.Address = desc.Address
	d.log = d.log.With("serial", serial)

	d.drain()
	return d, nil
}

func newDevice(in inEndpoint, out outEndpoint, log *zap.SugaredLogger) *Device {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Device{
		epIn:    in,
		epOut:   out,
		log:     log.Named("usbbridge"),
		recvBuf: make([]byte, 0, RecvBufferSize),
	}
}

// drain discards whatever a previous session left in the IN endpoint
func (d *Device) drain() {
	buf := make([]byte, RecvBufferSize)
	for i := 0; i < 5; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		n, err := d.epIn.ReadContext(ctx, buf)
		cancel()
		if err != nil || n == 0 {
			break
		}
	}
	d.recvBuf = d.recvBuf[:0]
}

func (d *Device) String() string {
	return fmt.Sprintf("%s %s (Serial: %s)", d.Manufacturer, d.Product, d.Serial)
}

// Send writes one command and waits for its response
func (d *Device) Send(app, cmd uint8, payload []byte, timeout time.Duration) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.send(app, cmd, payload, timeout)
}

func (d *Device) send(app, cmd uint8, payload []byte, timeout time.Duration) ([]byte, error) {
	if d.closed {
		return nil, trx.ErrClosed
	}
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	packet := encodePacket(app, cmd, payload)
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	n, err := d.epOut.WriteContext(ctx, packet)
	cancel()
	if err != nil {
		if ctx.Err() != nil || isTimeout(err) {
			return nil, fmt.Errorf("write app 0x%02X cmd 0x%02X: %w", app, cmd, trx.ErrTimeout)
		}
		return nil, fmt.Errorf("failed to write to EP%d: %w", EPNumber, err)
	}
	if n != len(packet) {
		return nil, fmt.Errorf("short write: wrote %d of %d bytes", n, len(packet))
	}

	return d.recv(app, cmd, timeout)
}

func (d *Device) recv(app, cmd uint8, timeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(timeout)
	buf := make([]byte, RecvBufferSize)

	for {
		payload, rest, err := parseResponse(d.recvBuf, app, cmd)
		d.recvBuf = append(d.recvBuf[:0], rest...)
		if err == nil {
			return payload, nil
		}

		left := time.Until(deadline)
		if left <= 0 {
			return nil, fmt.Errorf("response to app 0x%02X cmd 0x%02X: %w", app, cmd, trx.ErrTimeout)
		}
		slice := readSlice
		if left < slice {
			slice = left
		}

		ctx, cancel := context.WithTimeout(context.Background(), slice)
		n, err := d.epIn.ReadContext(ctx, buf)
		cancel()
		if err != nil {
			if ctx.Err() != nil || isTimeout(err) {
				continue
			}
			return nil, fmt.Errorf("failed to read from EP%d: %w", EPNumber, err)
		}
		d.recvBuf = append(d.recvBuf, buf[:n]...)
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || errors.Is(err, gousb.ErrorTimeout) {
		return true
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "timeout") || strings.Contains(s, "timed out") || strings.Contains(s, "canceled")
}

// Ping echoes data through the bridge
func (d *Device) Ping(data []byte) error {
	response, err := d.Send(AppSystem, SysCmdPing, data, DefaultTimeout)
	if err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}
	if len(response) != len(data) {
		return fmt.Errorf("ping response length mismatch: sent %d bytes, got %d", len(data), len(response))
	}
	for i := range data {
		if response[i] != data[i] {
			return fmt.Errorf("ping response data mismatch at byte %d: sent 0x%02X, got 0x%02X", i, data[i], response[i])
		}
	}
	return nil
}

// BuildType returns the firmware build string
func (d *Device) BuildType() (string, error) {
	response, err := d.Send(AppSystem, SysCmdBuildType, nil, DefaultTimeout)
	if err != nil {
		return "", fmt.Errorf("failed to get build type: %w", err)
	}
	if i := indexOf(response, 0); i >= 0 {
		response = response[:i]
	}
	return string(response), nil
}

// ResetBridge restarts the bridge firmware. The device must be reopened.
func (d *Device) ResetBridge() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := d.epOut.WriteContext(ctx, encodePacket(AppSystem, SysCmdReset, nil))
	return err
}

// Close stops IRQ polling and releases the USB handles
func (d *Device) Close() error {
	d.stopPolling()

	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	if d.usbInterface != nil {
		d.usbInterface.Close()
	}
	if d.usbConfig != nil {
		d.usbConfig.Close()
	}
	if d.usbDevice != nil {
		return d.usbDevice.Close()
	}
	return nil
}
