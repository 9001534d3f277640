package sdspi

import (
	"github.com/ardnew/sdspi/pkg"
)

// extractBits returns the unsigned value of the inclusive [msb, lsb] bit
// range of a 16-byte big-endian register, where bit 0 is the least
// significant bit of the whole 128-bit value. The caller guarantees the
// range lies within [0, 127] and spans at most 32 bits.
func extractBits(data []byte, msb, lsb uint) uint32 {
	var bits uint32
	size := 1 + msb - lsb
	for i := uint(0); i < size; i++ {
		position := lsb + i
		byteIdx := 15 - (position >> 3)
		bit := position & 0x7
		value := (data[byteIdx] >> bit) & 1
		bits |= uint32(value) << i
	}
	return bits
}

// sectorCount reads the CSD register and returns the total number of
// 512-byte sectors, also deriving the erase granularity as a side effect.
// Returns 0 if the register cannot be read or its layout is unsupported;
// bring-up treats that as fatal.
func (d *Device) sectorCount() uint64 {
	if _, err := d.cmd(cmdSendCSD, 0); err != nil {
		pkg.LogWarn(pkg.ComponentDriver, "CSD command failed", "error", err)
		return 0
	}
	var csd [16]byte
	if err := d.readData(csd[:]); err != nil {
		pkg.LogWarn(pkg.ComponentDriver, "CSD payload read failed", "error", err)
		return 0
	}

	var blocks uint64
	switch version := extractBits(csd[:], 127, 126); version {
	case 0:
		// Standard capacity: capacity is assembled from an explicit block
		// count and block length, then renormalized to 512-byte sectors.
		cSize := uint64(extractBits(csd[:], 73, 62))
		cSizeMult := extractBits(csd[:], 49, 47)
		readBlLen := extractBits(csd[:], 83, 80) // maximum read block length
		blockLen := uint64(1) << readBlLen
		mult := uint64(1) << (cSizeMult + 2)
		blockNr := (cSize + 1) * mult
		capacity := blockNr * blockLen
		blocks = capacity / d.blockSize

		// ERASE_BLK_EN set means single 512-byte blocks are erasable;
		// otherwise erase granularity is the SECTOR_SIZE field, never
		// smaller than one block.
		if extractBits(csd[:], 46, 46) != 0 {
			d.eraseSize = blockSizeHC
		} else {
			d.eraseSize = uint64(extractBits(csd[:], 45, 39))
			if d.eraseSize < d.blockSize {
				d.eraseSize = d.blockSize
			}
		}
		pkg.LogDebug(pkg.ComponentDriver, "standard capacity CSD",
			"c_size", cSize, "sectors", blocks)

	case 1:
		// High capacity: C_SIZE counts directly in units of 512 KiB.
		cSize := uint64(extractBits(csd[:], 69, 48))
		blocks = (cSize + 1) << 10
		d.eraseSize = blockSizeHC
		pkg.LogDebug(pkg.ComponentDriver, "high capacity CSD",
			"c_size", cSize, "sectors", blocks)

	default:
		pkg.LogWarn(pkg.ComponentDriver, "unsupported CSD structure", "version", version)
		return 0
	}

	return blocks
}
