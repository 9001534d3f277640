package sdspi

import (
	"testing"

	"github.com/ardnew/sdspi/hal"
)

// setBits writes value into the inclusive [msb, lsb] bit range of a 16-byte
// big-endian register, the inverse of extractBits.
func setBits(data []byte, msb, lsb uint, value uint32) {
	size := 1 + msb - lsb
	for i := uint(0); i < size; i++ {
		position := lsb + i
		byteIdx := 15 - (position >> 3)
		bit := position & 0x7
		if value>>i&1 != 0 {
			data[byteIdx] |= 1 << bit
		} else {
			data[byteIdx] &^= 1 << bit
		}
	}
}

func TestExtractBits(t *testing.T) {
	tests := []struct {
		name     string
		msb, lsb uint
	}{
		{"csd_structure", 127, 126},
		{"read_bl_len", 83, 80},
		{"c_size_v0", 73, 62},
		{"c_size_v1", 69, 48},
		{"c_size_mult", 49, 47},
		{"erase_blk_en", 46, 46},
		{"sector_size", 45, 39},
		{"low_byte", 7, 0},
		{"single_lsb", 0, 0},
		{"full_word", 31, 0},
	}

	var ones [16]byte
	for i := range ones {
		ones[i] = 0xFF
	}
	var zeros [16]byte

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			width := 1 + tt.msb - tt.lsb
			want := uint32(1)<<width - 1
			if width == 32 {
				want = 0xFFFFFFFF
			}
			if got := extractBits(ones[:], tt.msb, tt.lsb); got != want {
				t.Errorf("all ones [%d:%d] = %#x, want %#x", tt.msb, tt.lsb, got, want)
			}
			if got := extractBits(zeros[:], tt.msb, tt.lsb); got != 0 {
				t.Errorf("all zeros [%d:%d] = %#x, want 0", tt.msb, tt.lsb, got)
			}
		})
	}
}

func TestExtractBitsRoundTrip(t *testing.T) {
	fields := []struct {
		msb, lsb uint
		value    uint32
	}{
		{127, 126, 0x1},
		{83, 80, 0x9},
		{73, 62, 0xABC},
		{49, 47, 0x5},
		{45, 39, 0x7F},
	}

	var csd [16]byte
	for _, f := range fields {
		setBits(csd[:], f.msb, f.lsb, f.value)
	}
	for _, f := range fields {
		if got := extractBits(csd[:], f.msb, f.lsb); got != f.value {
			t.Errorf("[%d:%d] = %#x, want %#x", f.msb, f.lsb, got, f.value)
		}
	}
}

// csdBus answers every command frame with a clean status and then plays back
// a fixed 16-byte register payload, framed like a data block.
type csdBus struct {
	payload  [16]byte
	out      []byte
	frameLen int
}

func (b *csdBus) Configure(hal.Config) error { return nil }

func (b *csdBus) Transfer(v byte) (byte, error) {
	out := byte(0xFF)
	if len(b.out) > 0 {
		out = b.out[0]
		b.out = b.out[1:]
	}
	if b.frameLen == 0 && v&0xC0 != 0x40 {
		return out, nil
	}
	b.frameLen++
	if b.frameLen == 6 {
		b.frameLen = 0
		b.out = append(b.out, 0xFF, 0x00, 0xFF, tokStartBlock)
		b.out = append(b.out, b.payload[:]...)
		b.out = append(b.out, 0x00, 0x00)
	}
	return out, nil
}

func (b *csdBus) Tx(w, r []byte) error {
	n := len(w)
	if w == nil {
		n = len(r)
	}
	for i := 0; i < n; i++ {
		out := byte(fillByte)
		if w != nil {
			out = w[i]
		}
		in, _ := b.Transfer(out)
		if r != nil {
			r[i] = in
		}
	}
	return nil
}

func (b *csdBus) Lock()   {}
func (b *csdBus) Unlock() {}
func (b *csdBus) High()   {}
func (b *csdBus) Low()    {}

// csdDevice returns a device whose bus replays the given CSD register.
func csdDevice(csd [16]byte) *Device {
	bus := &csdBus{payload: csd}
	d := New(bus, bus, 1_000_000)
	d.SetClock(&fakeClock{})
	return d
}

func TestSectorCountStandardCapacity(t *testing.T) {
	var csd [16]byte
	setBits(csd[:], 127, 126, 0) // CSD v1.0 layout
	setBits(csd[:], 83, 80, 9)   // READ_BL_LEN: 512-byte blocks
	setBits(csd[:], 73, 62, 0xFFF)
	setBits(csd[:], 49, 47, 2) // C_SIZE_MULT: x16
	setBits(csd[:], 46, 46, 1) // ERASE_BLK_EN

	d := csdDevice(csd)
	// capacity = (C_SIZE+1) * 2^(C_SIZE_MULT+2) * 2^READ_BL_LEN
	want := uint64(0xFFF+1) * 16 * 512 / 512
	if got := d.sectorCount(); got != want {
		t.Errorf("sectorCount() = %d, want %d", got, want)
	}
	if d.eraseSize != 512 {
		t.Errorf("eraseSize = %d, want 512", d.eraseSize)
	}
}

func TestSectorCountEraseGranularity(t *testing.T) {
	// ERASE_BLK_EN clear: granularity comes from SECTOR_SIZE, which can
	// never resolve below one 512-byte block.
	var csd [16]byte
	setBits(csd[:], 83, 80, 9)
	setBits(csd[:], 73, 62, 0x10)
	setBits(csd[:], 49, 47, 2)
	setBits(csd[:], 45, 39, 0x40)

	d := csdDevice(csd)
	if got := d.sectorCount(); got == 0 {
		t.Fatal("sectorCount() = 0, want nonzero")
	}
	if d.eraseSize != 512 {
		t.Errorf("eraseSize = %d, want 512", d.eraseSize)
	}
}

func TestSectorCountHighCapacity(t *testing.T) {
	var csd [16]byte
	setBits(csd[:], 127, 126, 1) // CSD v2.0 layout
	setBits(csd[:], 69, 48, 0x1000)

	d := csdDevice(csd)
	// Each C_SIZE unit is 512 KiB, or 1024 sectors.
	want := uint64(0x1000+1) << 10
	if got := d.sectorCount(); got != want {
		t.Errorf("sectorCount() = %d, want %d", got, want)
	}
	if d.eraseSize != 512 {
		t.Errorf("eraseSize = %d, want 512", d.eraseSize)
	}
}

func TestSectorCountUnsupportedStructure(t *testing.T) {
	var csd [16]byte
	setBits(csd[:], 127, 126, 2)

	d := csdDevice(csd)
	if got := d.sectorCount(); got != 0 {
		t.Errorf("sectorCount() = %d, want 0", got)
	}
}
