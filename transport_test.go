package sdspi

import (
	"errors"
	"testing"

	"github.com/ardnew/sdspi/hal"
)

// stubBus plays back a fixed byte sequence, then a constant fallback byte.
type stubBus struct {
	out      []byte
	fallback byte
	err      error
}

func (b *stubBus) Configure(hal.Config) error { return nil }

func (b *stubBus) Transfer(byte) (byte, error) {
	if b.err != nil {
		return 0x00, b.err
	}
	if len(b.out) > 0 {
		v := b.out[0]
		b.out = b.out[1:]
		return v, nil
	}
	return b.fallback, nil
}

func (b *stubBus) Tx(w, r []byte) error {
	n := len(w)
	if w == nil {
		n = len(r)
	}
	for i := 0; i < n; i++ {
		in, err := b.Transfer(fillByte)
		if err != nil {
			return err
		}
		if r != nil {
			r[i] = in
		}
	}
	return nil
}

func (b *stubBus) Lock()   {}
func (b *stubBus) Unlock() {}
func (b *stubBus) High()   {}
func (b *stubBus) Low()    {}

func stubDevice(bus *stubBus) *Device {
	d := New(bus, bus, 1_000_000)
	d.SetClock(&fakeClock{})
	return d
}

func TestWaitToken(t *testing.T) {
	t.Run("arrives", func(t *testing.T) {
		d := stubDevice(&stubBus{out: []byte{0xFF, 0xFF, tokStartBlock}, fallback: 0xFF})
		if !d.waitToken(tokStartBlock, busyTimeout) {
			t.Error("waitToken = false, want true")
		}
	})

	t.Run("times_out", func(t *testing.T) {
		d := stubDevice(&stubBus{fallback: 0xFF})
		if d.waitToken(tokStartBlock, busyTimeout) {
			t.Error("waitToken = true, want false")
		}
	})
}

func TestWaitReady(t *testing.T) {
	t.Run("releases", func(t *testing.T) {
		d := stubDevice(&stubBus{out: []byte{0x00, 0x00, 0xFF}})
		if !d.waitReady(busyTimeout) {
			t.Error("waitReady = false, want true")
		}
	})

	t.Run("held_busy", func(t *testing.T) {
		d := stubDevice(&stubBus{fallback: 0x00})
		if d.waitReady(busyTimeout) {
			t.Error("waitReady = true, want false")
		}
	})
}

func TestXferBusFailure(t *testing.T) {
	// An unreachable bus reads as an idle line, which upper layers classify
	// as an absent card.
	d := stubDevice(&stubBus{err: errors.New("io failure")})
	if got := d.xfer(fillByte); got != 0xFF {
		t.Errorf("xfer = %#x, want 0xFF", got)
	}
	if d.xferBlock(nil, make([]byte, 4)) {
		t.Error("xferBlock = true, want false")
	}
}
