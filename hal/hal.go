package hal

import "time"

// Mode selects the SPI clock polarity and phase (CPOL/CPHA). SD cards in
// SPI mode always use Mode0.
type Mode uint8

// SPI mode constants.
const (
	Mode0 Mode = iota // CPOL=0 CPHA=0
	Mode1             // CPOL=0 CPHA=1
	Mode2             // CPOL=1 CPHA=0
	Mode3             // CPOL=1 CPHA=1
)

// Config holds the bus parameters applied by [Bus.Configure].
type Config struct {
	// Frequency is the SPI clock rate in Hz.
	Frequency uint32

	// Mode is the SPI clock polarity and phase.
	Mode Mode

	// Fill is the byte shifted out when the driver only wants to read.
	Fill byte
}

// Bus is the byte-oriented SPI transport the driver runs on.
//
// The driver brackets every logical operation with Lock/Unlock so that a
// bus shared with other peripherals is never interleaved mid-transaction.
// Implementations that own the bus exclusively may implement both as no-ops.
type Bus interface {
	// Configure applies the clock rate and frame format. The driver calls
	// this once at low speed for card bring-up and again for data transfer.
	Configure(cfg Config) error

	// Transfer exchanges a single byte full-duplex.
	Transfer(b byte) (byte, error)

	// Tx exchanges len(w) bytes (or len(r) if w is nil) full-duplex.
	// A nil w sends the configured fill byte; a nil r discards input.
	Tx(w, r []byte) error

	// Lock acquires exclusive ownership of the bus.
	Lock()

	// Unlock releases ownership of the bus.
	Unlock()
}

// ChipSelect is the single digital output line used to select the card.
// The line is active low: High deselects, Low selects.
type ChipSelect interface {
	High()
	Low()
}

// Clock is the time source used to bound the driver's polling loops.
// It exists as an interface so tests can substitute a synthetic clock and
// exercise timeout paths without real delays.
type Clock interface {
	// Now returns the current time. Only differences are meaningful, so a
	// monotonic source is sufficient.
	Now() time.Time

	// Sleep pauses the caller for the given duration.
	Sleep(d time.Duration)
}

type systemClock struct{}

func (systemClock) Now() time.Time        { return time.Now() }
func (systemClock) Sleep(d time.Duration) { time.Sleep(d) }

// SystemClock returns a Clock backed by the time package.
func SystemClock() Clock { return systemClock{} }
