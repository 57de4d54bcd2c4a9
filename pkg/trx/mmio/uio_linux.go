//go:build linux

package mmio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/herlein/gotal/pkg/trx"
)

const pollTimeoutMs = 100

// Device is a UIO mapped transceiver. It implements trx.Registers and
// trx.IRQSource.
type Device struct {
	*Window
	fd  int
	log *zap.SugaredLogger

	handler atomic.Pointer[func()]
	once    sync.Once
	stop    chan struct{}
	done    chan struct{}
}

// Open maps the register window of a UIO node such as /dev/uio0. UIO
// selects memory map N through an offset of N pages.
func Open(path string, mapIndex int, log *zap.SugaredLogger) (*Device, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}

	offset := int64(mapIndex) * int64(unix.Getpagesize())
	mem, err := unix.Mmap(fd, offset, trx.AddressSpace, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("failed to map %s: %w", path, err)
	}

	w, err := NewWindow(mem)
	if err != nil {
		unix.Munmap(mem)
		unix.Close(fd)
		return nil, err
	}

	d := &Device{
		Window: w,
		fd:     fd,
		log:    log.Named("mmio").With("path", path),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	d.log.Infow("mapped", "bytes", len(mem))
	return d, nil
}

// SetIRQHandler registers fn and starts waiting for UIO interrupts
func (d *Device) SetIRQHandler(fn func()) {
	d.handler.Store(&fn)
	d.once.Do(func() {
		if err := d.enableIRQ(); err != nil {
			d.log.Warnw("UIO interrupt unavailable", "error", err)
			close(d.done)
			return
		}
		go d.waitIRQ()
	})
}

// enableIRQ unmasks the interrupt, writing 1 to the UIO node
func (d *Device) enableIRQ() error {
	var b [4]byte
	binary.NativeEndian.PutUint32(b[:], 1)
	_, err := unix.Write(d.fd, b[:])
	return err
}

func (d *Device) waitIRQ() {
	defer close(d.done)
	fds := []unix.PollFd{{Fd: int32(d.fd), Events: unix.POLLIN}}
	var count [4]byte

	for {
		select {
		case <-d.stop:
			return
		default:
		}

		n, err := unix.Poll(fds, pollTimeoutMs)
		if errors.Is(err, unix.EINTR) || n == 0 {
			continue
		}
		if err != nil {
			d.log.Errorw("poll failed", "error", err)
			return
		}
		if _, err := unix.Read(d.fd, count[:]); err != nil {
			d.log.Errorw("interrupt read failed", "error", err)
			return
		}
		if fn := d.handler.Load(); fn != nil && *fn != nil {
			(*fn)()
		}
		if err := d.enableIRQ(); err != nil {
			d.log.Errorw("interrupt re-enable failed", "error", err)
			return
		}
	}
}

// Close stops the interrupt goroutine and unmaps the window
func (d *Device) Close() error {
	mem := d.detach()
	if mem == nil {
		return nil
	}
	close(d.stop)
	d.once.Do(func() { close(d.done) })
	<-d.done

	err := unix.Munmap(mem)
	if cerr := unix.Close(d.fd); err == nil {
		err = cerr
	}
	return err
}
