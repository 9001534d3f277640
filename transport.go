package sdspi

import (
	"time"

	"github.com/ardnew/sdspi/pkg"
)

// Transport timing. Commands allow the full protocol timeout; busy and
// start-token waits use the shorter data timeout.
const (
	cmdTimeout  = 5000 * time.Millisecond
	busyTimeout = 300 * time.Millisecond
)

// fillByte is shifted out whenever the driver only wants to read. The card
// treats an all-ones line as no traffic.
const fillByte = 0xFF

// sel acquires the bus and asserts chip select. Every sel has exactly one
// matching desel on every exit path.
func (d *Device) sel() {
	d.bus.Lock()
	d.cs.Low()
}

// desel deasserts chip select and releases the bus.
func (d *Device) desel() {
	d.cs.High()
	d.bus.Unlock()
}

// xfer exchanges a single byte. A bus I/O failure reads as 0xFF, which the
// protocol layers interpret as no response; an unreachable bus is
// indistinguishable from an absent card.
func (d *Device) xfer(b byte) byte {
	r, err := d.bus.Transfer(b)
	if err != nil {
		pkg.LogDebug(pkg.ComponentTransport, "bus transfer failed", "error", err)
		return r1NoResponse
	}
	return r
}

// xferBlock exchanges a bulk burst. Reports false on bus I/O failure.
func (d *Device) xferBlock(w, r []byte) bool {
	if err := d.bus.Tx(w, r); err != nil {
		pkg.LogDebug(pkg.ComponentTransport, "bus burst failed", "error", err)
		return false
	}
	return true
}

// spiWait clocks count fill bytes onto the bus.
func (d *Device) spiWait(count int) {
	for i := 0; i < count; i++ {
		d.xfer(fillByte)
	}
}

// waitToken polls until the card sends the given token. Reports false if the
// token does not arrive within timeout.
func (d *Device) waitToken(token byte, timeout time.Duration) bool {
	deadline := d.clock.Now().Add(timeout)
	for {
		if d.xfer(fillByte) == token {
			return true
		}
		if !d.clock.Now().Before(deadline) {
			pkg.LogDebug(pkg.ComponentTransport, "token wait timed out", "token", token)
			return false
		}
	}
}

// waitReady polls until the card releases the data line (a 0xFF byte),
// signalling the end of a busy period. Reports false on timeout.
func (d *Device) waitReady(timeout time.Duration) bool {
	deadline := d.clock.Now().Add(timeout)
	for {
		if d.xfer(fillByte) == 0xFF {
			return true
		}
		if !d.clock.Now().Before(deadline) {
			return false
		}
	}
}

// readData reads one data payload bracketed by start-token synchronization
// and a discarded 16-bit trailing checksum. Used for block reads and for
// register payloads (CSD, ACMD22).
func (d *Device) readData(buf []byte) error {
	d.sel()

	if !d.waitToken(tokStartBlock, busyTimeout) {
		d.desel()
		return pkg.ErrNoResponse
	}

	if !d.xferBlock(nil, buf) {
		d.desel()
		return pkg.ErrNoResponse
	}

	// Discard the CRC16 trailer; data CRC is disabled.
	d.xfer(fillByte)
	d.xfer(fillByte)

	d.desel()
	return nil
}

// writeData transfers one data payload prefixed by the given start token and
// followed by a dummy 16-bit checksum, then returns the masked data response
// token.
func (d *Device) writeData(buf []byte, token byte) byte {
	d.sel()

	// A card still programming a prior block holds the line low when
	// reselected. Checking before the transfer replaces a post-write busy
	// wait.
	if !d.waitReady(cmdTimeout) {
		pkg.LogDebug(pkg.ComponentTransport, "card not ready before data block")
	}

	d.xfer(token)
	d.xferBlock(buf, nil)

	// Dummy CRC16; data CRC is disabled.
	d.xfer(fillByte)
	d.xfer(fillByte)

	response := d.xfer(fillByte)
	d.desel()
	return response & dataResponseMask
}
