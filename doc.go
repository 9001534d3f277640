// Package sdspi is a block-storage driver for SD, SDHC, and SDXC memory
// cards attached over a byte-oriented SPI bus.
//
// The driver brings a card from power-up into SPI protocol mode, negotiates
// its voltage and version, classifies its capacity class, and then services
// read, program, and erase requests in fixed 512-byte blocks with correct
// addressing, retry, and error reporting.
//
// The hardware is abstracted behind the interfaces of
// [github.com/ardnew/sdspi/hal]: an SPI bus, a chip-select line, and a
// millisecond-resolution clock. Any platform that can exchange bytes over
// SPI and drive a digital output can host the driver.
//
// # Usage
//
//	dev := sdspi.New(bus, cs, 1_000_000)
//	if err := dev.Init(); err != nil {
//	    // no card, unusable card, ...
//	}
//	buf := make([]byte, 512)
//	err := dev.Read(buf, 0, 512)
//
// All public operations are serialized by an internal mutex: a second caller
// blocks until the first completes. Every call is a blocking sequence of bus
// transactions bounded by explicit timeouts; there is no cancellation.
//
// Addressing is always in byte offsets at the API boundary. Standard
// capacity cards are addressed on the wire by byte offset, high capacity
// cards by 512-byte block index; the driver translates internally.
package sdspi
