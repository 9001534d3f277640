//go:build linux

package linux

import (
	"testing"
	"unsafe"
)

// The request numbers must match the values compiled into the kernel's
// spidev driver, or every ioctl silently fails with ENOTTY.
func TestIoctlEncoding(t *testing.T) {
	tests := []struct {
		name string
		got  uintptr
		want uintptr
	}{
		{"SPI_IOC_WR_MODE", spiIocWrMode, 0x40016B01},
		{"SPI_IOC_WR_BITS_PER_WORD", spiIocWrBitsPerWord, 0x40016B03},
		{"SPI_IOC_WR_MAX_SPEED_HZ", spiIocWrMaxSpeedHz, 0x40046B04},
		{"SPI_IOC_MESSAGE(1)", spiIocMessage(1), 0x40206B00},
		{"SPI_IOC_MESSAGE(2)", spiIocMessage(2), 0x40406B00},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("request = %#x, want %#x", tt.got, tt.want)
			}
		})
	}
}

func TestTransferStructLayout(t *testing.T) {
	if size := unsafe.Sizeof(spiIocTransfer{}); size != spiTransferSize {
		t.Errorf("spiIocTransfer size = %d, want %d", size, spiTransferSize)
	}
	var x spiIocTransfer
	if off := unsafe.Offsetof(x.rxBuf); off != 8 {
		t.Errorf("rxBuf offset = %d, want 8", off)
	}
	if off := unsafe.Offsetof(x.len); off != 16 {
		t.Errorf("len offset = %d, want 16", off)
	}
	if off := unsafe.Offsetof(x.speedHz); off != 20 {
		t.Errorf("speedHz offset = %d, want 20", off)
	}
}

func TestGpioPaths(t *testing.T) {
	if got, want := gpioDirPath(25), "/sys/class/gpio/gpio25"; got != want {
		t.Errorf("gpioDirPath = %q, want %q", got, want)
	}
	if got, want := gpioDirectionPath(25), "/sys/class/gpio/gpio25/direction"; got != want {
		t.Errorf("gpioDirectionPath = %q, want %q", got, want)
	}
	if got, want := gpioValuePath(25), "/sys/class/gpio/gpio25/value"; got != want {
		t.Errorf("gpioValuePath = %q, want %q", got, want)
	}
}
