// Package hal defines the Hardware Abstraction Layer contracts used by the
// sdspi driver.
//
// The driver itself is platform independent. It talks to the card through a
// byte-oriented SPI bus ([Bus]), drives the card's chip-select line through
// [ChipSelect], and bounds its polling loops with a millisecond-resolution
// time source ([Clock]). Platform vendors implement these interfaces to
// enable sdspi on their specific hardware.
//
// Two backends ship with the module:
//
//   - [github.com/ardnew/sdspi/hal/linux] drives a real card through the
//     Linux spidev interface with a sysfs GPIO chip select.
//   - [github.com/ardnew/sdspi/hal/cardsim] is a software SD card used by
//     the test suite and the examples.
package hal
