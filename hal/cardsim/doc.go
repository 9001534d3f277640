// Package cardsim implements a software SD card behind the sdspi HAL
// interfaces.
//
// A [Card] behaves like a real SD, SDHC, or SDXC card wired to an SPI bus:
// it consumes 6-byte command frames, produces R1/R2/R3/R7 responses after a
// response-time gap, emits and accepts data blocks bracketed by start
// tokens, and signals busy periods, all at single-byte granularity. Block
// content lives in a pluggable [Image], backed by memory or by a file.
//
// The simulator exists so the driver, and programs built on it, can run
// without hardware. The test suite drives full bring-up, read, program, and
// erase sequences against it, and its fault-injection knobs reproduce the
// protocol corner cases that are hard to catch on a real card: lost CMD0
// frames, slow ACMD41 initialization, dropped read start tokens, and write
// rejections mid-transfer.
//
// A Card is not safe for concurrent use by multiple drivers; like the bus
// it stands in for, it expects callers to serialize with Lock and Unlock.
package cardsim
