// Package linux implements the sdspi HAL for Linux hosts.
//
// [Bus] drives an SPI controller through the kernel spidev interface
// (/dev/spidevB.D), and [ChipSelect] drives the card's chip-select line
// through a sysfs GPIO. Together they let the driver talk to a real card
// from userspace, with no kernel module beyond spidev itself.
//
// The kernel asserts its own chip select around each spidev message, but
// the SD protocol needs the select line held across whole transactions,
// which is why the card's line is driven as a plain GPIO instead.
package linux
