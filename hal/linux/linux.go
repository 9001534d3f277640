//go:build linux

package linux

import (
	"fmt"
	"runtime"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/ardnew/sdspi/hal"
	"github.com/ardnew/sdspi/pkg"
)

// Bus implements [hal.Bus] over a spidev character device.
type Bus struct {
	mu   sync.Mutex
	fd   int
	path string
	cfg  hal.Config

	// fill is a reusable all-fill transmit buffer for read-only bursts.
	fill []byte
}

// NewBus opens the spidev device at path, e.g. "/dev/spidev0.0".
func NewBus(path string) (*Bus, error) {
	fd, err := unix.Open(path, unix.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	b := &Bus{
		fd:   fd,
		path: path,
		cfg:  hal.Config{Fill: 0xFF},
	}
	pkg.LogDebug(pkg.ComponentHAL, "spidev opened", "path", path)
	return b, nil
}

// Close releases the spidev device.
func (b *Bus) Close() error {
	if b.fd < 0 {
		return nil
	}
	err := unix.Close(b.fd)
	b.fd = -1
	return err
}

// Configure applies the clock rate and frame format with spidev ioctls.
func (b *Bus) Configure(cfg hal.Config) error {
	mode := uint8(cfg.Mode)
	if err := b.ioctl(spiIocWrMode, unsafe.Pointer(&mode)); err != nil {
		return fmt.Errorf("set mode: %w", err)
	}
	bits := uint8(8)
	if err := b.ioctl(spiIocWrBitsPerWord, unsafe.Pointer(&bits)); err != nil {
		return fmt.Errorf("set bits per word: %w", err)
	}
	speed := cfg.Frequency
	if err := b.ioctl(spiIocWrMaxSpeedHz, unsafe.Pointer(&speed)); err != nil {
		return fmt.Errorf("set speed: %w", err)
	}
	b.cfg = cfg
	pkg.LogDebug(pkg.ComponentHAL, "spidev configured",
		"path", b.path, "frequency", cfg.Frequency, "mode", mode)
	return nil
}

// Transfer exchanges a single byte full-duplex.
func (b *Bus) Transfer(v byte) (byte, error) {
	tx := [1]byte{v}
	var rx [1]byte
	if err := b.message(tx[:], rx[:]); err != nil {
		return 0xFF, err
	}
	return rx[0], nil
}

// Tx exchanges a burst full-duplex. A nil w sends the configured fill byte;
// a nil r discards input.
func (b *Bus) Tx(w, r []byte) error {
	n := len(w)
	if w == nil {
		n = len(r)
		if n > len(b.fill) {
			b.fill = make([]byte, n)
			for i := range b.fill {
				b.fill[i] = b.cfg.Fill
			}
		}
		w = b.fill[:n]
	}
	if n == 0 {
		return nil
	}
	if n > maxTransferLen {
		return fmt.Errorf("transfer of %d bytes exceeds %d limit", n, maxTransferLen)
	}
	return b.message(w, r)
}

// Lock acquires exclusive ownership of the bus.
func (b *Bus) Lock() { b.mu.Lock() }

// Unlock releases ownership of the bus.
func (b *Bus) Unlock() { b.mu.Unlock() }

// message runs one full-duplex spidev transfer. r may be nil.
func (b *Bus) message(w, r []byte) error {
	xfer := spiIocTransfer{
		txBuf:       uint64(uintptr(unsafe.Pointer(&w[0]))),
		len:         uint32(len(w)),
		speedHz:     b.cfg.Frequency,
		bitsPerWord: 8,
	}
	if r != nil {
		xfer.rxBuf = uint64(uintptr(unsafe.Pointer(&r[0])))
	}

	err := b.ioctl(spiIocMessage(1), unsafe.Pointer(&xfer))
	runtime.KeepAlive(w)
	runtime.KeepAlive(r)
	if err != nil {
		return fmt.Errorf("spidev message: %w", err)
	}
	return nil
}

// ioctl issues a spidev ioctl on the bus file descriptor.
func (b *Bus) ioctl(req uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(b.fd), req, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}
