package usbbridge

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/herlein/gotal/pkg/pal"
	"github.com/herlein/gotal/pkg/trx"
	"github.com/herlein/gotal/pkg/trx/sim"
)

func response(app, cmd uint8, payload ...byte) []byte {
	b := []byte{ResponseMarker, app, cmd, 0, 0}
	binary.LittleEndian.PutUint16(b[3:], uint16(len(payload)))
	return append(b, payload...)
}

func TestEncodePacket(t *testing.T) {
	got := encodePacket(AppSPI, SPICmdWrite, []byte{0x41, 0x03, 0xAA})
	want := []byte{AppSPI, SPICmdWrite, 0x03, 0x00, 0x41, 0x03, 0xAA}
	if !bytes.Equal(got, want) {
		t.Errorf("encodePacket = % X, want % X", got, want)
	}
}

func TestParseResponse(t *testing.T) {
	tests := []struct {
		name    string
		buf     []byte
		payload []byte
		rest    []byte
		err     error
	}{
		{"complete", response(AppSPI, SPICmdRead, 0x34), []byte{0x34}, []byte{}, nil},
		{"garbage before marker", append([]byte{0x00, 0x11}, response(AppSPI, SPICmdRead, 0x34)...), []byte{0x34}, []byte{}, nil},
		{"trailing data kept", append(response(AppSPI, SPICmdRead, 0x01), 0x40, 0x50), []byte{0x01}, []byte{0x40, 0x50}, nil},
		{"other response dropped", append(response(AppSystem, SysCmdPing, 0x55), response(AppSPI, SPICmdRead, 0x02)...), []byte{0x02}, []byte{}, nil},
		{"only other response", response(AppSystem, SysCmdPing, 0x55), nil, []byte{}, errIncomplete},
		{"short header", []byte{0x40, AppSPI}, nil, []byte{0x40, AppSPI}, errIncomplete},
		{"short payload", response(AppSPI, SPICmdRead, 1, 2, 3)[:6], nil, response(AppSPI, SPICmdRead, 1, 2, 3)[:6], errIncomplete},
		{"no marker", []byte{1, 2, 3}, nil, []byte{}, errIncomplete},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, rest, err := parseResponse(tt.buf, AppSPI, SPICmdRead)
			if !errors.Is(err, tt.err) {
				t.Fatalf("err = %v, want %v", err, tt.err)
			}
			if !bytes.Equal(payload, tt.payload) {
				t.Errorf("payload = % X, want % X", payload, tt.payload)
			}
			if !bytes.Equal(rest, tt.rest) {
				t.Errorf("rest = % X, want % X", rest, tt.rest)
			}
		})
	}
}

// firmware emulates the bridge in front of a simulated transceiver
type firmware struct {
	mu      sync.Mutex
	chip    *sim.Chip
	pending []byte
	irq     bool
	reads   int
	writes  int
	resets  int
	noise   []byte // sent ahead of the next response
}

func newFirmware() *firmware {
	return &firmware{chip: sim.New(pal.NewSim())}
}

func (f *firmware) WriteContext(ctx context.Context, pkt []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	app, cmd := pkt[0], pkt[1]
	n := int(binary.LittleEndian.Uint16(pkt[2:4]))
	payload := pkt[headerLen : headerLen+n]

	var out []byte
	switch {
	case app == AppSystem && cmd == SysCmdPing:
		out = payload
	case app == AppSystem && cmd == SysCmdBuildType:
		out = append([]byte("bridge-test"), 0)
	case app == AppSPI && cmd == SPICmdRead:
		f.reads++
		addr := binary.LittleEndian.Uint16(payload[0:])
		out = make([]byte, binary.LittleEndian.Uint16(payload[2:]))
		if err := f.chip.ReadRegs(addr, out); err != nil {
			return 0, err
		}
	case app == AppSPI && cmd == SPICmdWrite:
		f.writes++
		if err := f.chip.WriteRegs(binary.LittleEndian.Uint16(payload), payload[2:]); err != nil {
			return 0, err
		}
	case app == AppSPI && cmd == SPICmdIRQLevel:
		out = []byte{0}
		if f.irq {
			out[0] = 1
		}
	case app == AppSPI && cmd == SPICmdHWReset:
		f.resets++
	}

	f.pending = append(f.pending, f.noise...)
	f.noise = nil
	f.pending = append(f.pending, response(app, cmd, out...)...)
	return len(pkt), nil
}

// ReadContext hands out at most one USB packet per call
func (f *firmware) ReadContext(ctx context.Context, buf []byte) (int, error) {
	f.mu.Lock()
	if len(f.pending) == 0 {
		f.mu.Unlock()
		<-ctx.Done()
		return 0, ctx.Err()
	}
	n := copy(buf[:min(len(buf), MaxPacketSize)], f.pending)
	f.pending = f.pending[n:]
	f.mu.Unlock()
	return n, nil
}

func newTestDevice(t *testing.T) (*Device, *firmware) {
	fw := newFirmware()
	d := newDevice(fw, fw, zaptest.NewLogger(t).Sugar())
	t.Cleanup(func() { d.Close() })
	return d, fw
}

func TestSystemCommands(t *testing.T) {
	d, fw := newTestDevice(t)
	if err := d.Ping([]byte{0x55, 0xAA}); err != nil {
		t.Errorf("Ping: %v", err)
	}

	fw.noise = append([]byte{0xFF, 0x00}, response(AppSPI, SPICmdIRQLevel, 1)...)
	build, err := d.BuildType()
	if err != nil {
		t.Fatalf("BuildType: %v", err)
	}
	if build != "bridge-test" {
		t.Errorf("BuildType = %q", build)
	}
	if len(d.recvBuf) != 0 {
		t.Errorf("% X left in the receive buffer", d.recvBuf)
	}
}

func TestRegistersThroughBridge(t *testing.T) {
	d, fw := newTestDevice(t)

	pn, _, err := trx.PartNumber(d)
	if err != nil {
		t.Fatalf("PartNumber: %v", err)
	}
	if pn != trx.PartNumAT86RF215 {
		t.Errorf("part number 0x%02X", pn)
	}

	if err := d.WriteReg(trx.RegBBC0AMEDT, 0xA6); err != nil {
		t.Fatal(err)
	}
	if v, err := d.ReadReg(trx.RegBBC0AMEDT); err != nil || v != 0xA6 {
		t.Errorf("AMEDT = 0x%02X, %v", v, err)
	}

	data := make([]byte, MaxBurst+100)
	for i := range data {
		data[i] = uint8(i * 7)
	}
	fw.reads, fw.writes = 0, 0
	if err := d.WriteRegs(trx.RegBBC0FBTXS, data); err != nil {
		t.Fatalf("WriteRegs: %v", err)
	}
	back := make([]byte, len(data))
	if err := d.ReadRegs(trx.RegBBC0FBTXS, back); err != nil {
		t.Fatalf("ReadRegs: %v", err)
	}
	if !bytes.Equal(back, data) {
		t.Error("frame buffer contents differ")
	}
	if fw.writes != 2 || fw.reads != 2 {
		t.Errorf("%d writes and %d reads, want 2 each", fw.writes, fw.reads)
	}

	if err := d.ReadRegs(trx.AddressSpace-1, make([]byte, 2)); !errors.Is(err, trx.ErrAddressRange) {
		t.Errorf("out of range read = %v", err)
	}
}

func TestHardwareReset(t *testing.T) {
	d, fw := newTestDevice(t)
	if err := d.HardwareReset(); err != nil {
		t.Fatal(err)
	}
	if fw.resets != 1 {
		t.Errorf("%d resets", fw.resets)
	}
}

func TestIRQPolling(t *testing.T) {
	d, fw := newTestDevice(t)

	var calls atomic.Int32
	fired := make(chan struct{}, 1)
	d.SetIRQHandler(func() {
		calls.Add(1)
		fw.mu.Lock()
		fw.irq = false
		fw.mu.Unlock()
		select {
		case fired <- struct{}{}:
		default:
		}
	})

	time.Sleep(5 * IRQPollPeriod)
	if calls.Load() != 0 {
		t.Fatal("handler called with the line low")
	}

	fw.mu.Lock()
	fw.irq = true
	fw.mu.Unlock()
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("handler not called")
	}

	d.SetIRQHandler(nil)
	n := calls.Load()
	fw.mu.Lock()
	fw.irq = true
	fw.mu.Unlock()
	time.Sleep(5 * IRQPollPeriod)
	if calls.Load() != n {
		t.Error("handler called after polling stopped")
	}
}

func TestClosedDevice(t *testing.T) {
	d, _ := newTestDevice(t)
	d.Close()
	if _, err := d.ReadReg(trx.RegRFPN); !errors.Is(err, trx.ErrClosed) {
		t.Errorf("read after close = %v", err)
	}
}

func TestSelectorParse(t *testing.T) {
	devs := []*Device{
		{Serial: "009a", Bus: 1, Address: 10},
		{Serial: "00ff", Bus: 2, Address: 5},
	}
	tests := []struct {
		sel  Selector
		want int
	}{
		{"", 0},
		{"#1", 1},
		{"2:5", 1},
		{"009a", 0},
		{"0abc", -1},
		{"3:3", -1},
	}
	for _, tt := range tests {
		m, _, err := tt.sel.parse()
		if err != nil {
			t.Fatalf("parse(%q): %v", tt.sel, err)
		}
		got := -1
		for i, d := range devs {
			if m(i, d) {
				got = i
			}
		}
		if got != tt.want {
			t.Errorf("%q matched %d, want %d", tt.sel, got, tt.want)
		}
	}

	for _, bad := range []Selector{"#x", "#-1", "a:1", "1:b"} {
		if _, _, err := bad.parse(); err == nil {
			t.Errorf("parse(%q) accepted", bad)
		}
	}

	if _, err := pick(nil, nil, "any"); !errors.Is(err, ErrNoDevice) {
		t.Errorf("pick on no devices = %v", err)
	}
}
