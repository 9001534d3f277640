package cardsim

// setBits writes value into the inclusive [msb, lsb] bit range of a 16-byte
// big-endian register, where bit 0 is the least significant bit of the
// whole 128-bit value.
func setBits(data []byte, msb, lsb uint, value uint32) {
	size := 1 + msb - lsb
	for i := uint(0); i < size; i++ {
		position := lsb + i
		byteIdx := 15 - (position >> 3)
		bit := position & 0x7
		if value&(1<<i) != 0 {
			data[byteIdx] |= 1 << bit
		} else {
			data[byteIdx] &^= 1 << bit
		}
	}
}

// buildCSD assembles the card's CSD register from its version and image
// size. Only the fields a host needs to size the card are populated.
func (c *Card) buildCSD() [16]byte {
	var csd [16]byte
	sectors := c.img.Size() / blockSize

	if c.version == V2HC {
		// CSD version 2.0: C_SIZE counts in units of 1024 sectors.
		setBits(csd[:], 127, 126, 1)
		cSize := uint32(sectors/1024) - 1
		setBits(csd[:], 69, 48, cSize)
		return csd
	}

	// CSD version 1.0 with READ_BL_LEN=9 and C_SIZE_MULT=7, so each C_SIZE
	// step is 512 sectors. ERASE_BLK_EN advertises single-block erase.
	setBits(csd[:], 127, 126, 0)
	setBits(csd[:], 83, 80, 9)
	setBits(csd[:], 49, 47, 7)
	setBits(csd[:], 46, 46, 1)
	cSize := uint32(sectors/512) - 1
	setBits(csd[:], 73, 62, cSize)
	return csd
}
