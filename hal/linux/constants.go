//go:build linux

package linux

// =============================================================================
// spidev ioctl Encoding
// =============================================================================

// Linux ioctl request layout: direction, size, type, and number fields.
const (
	iocNrShift   = 0
	iocTypeShift = 8
	iocSizeShift = 16
	iocDirShift  = 30

	iocWrite = 1
)

// spiIocMagic is the spidev ioctl type ('k').
const spiIocMagic = 'k'

// ioc assembles an ioctl request number.
func ioc(dir, typ, nr, size uintptr) uintptr {
	return dir<<iocDirShift | typ<<iocTypeShift | nr<<iocNrShift | size<<iocSizeShift
}

// iow assembles a write-direction ioctl request number.
func iow(typ, nr, size uintptr) uintptr {
	return ioc(iocWrite, typ, nr, size)
}

// spidev ioctl requests used by this backend.
var (
	spiIocWrMode        = iow(spiIocMagic, 1, 1) // SPI_IOC_WR_MODE
	spiIocWrBitsPerWord = iow(spiIocMagic, 3, 1) // SPI_IOC_WR_BITS_PER_WORD
	spiIocWrMaxSpeedHz  = iow(spiIocMagic, 4, 4) // SPI_IOC_WR_MAX_SPEED_HZ
)

// spiTransferSize is the size of spiIocTransfer, fixed by the kernel ABI.
const spiTransferSize = 32

// spiIocMessage assembles SPI_IOC_MESSAGE(n).
func spiIocMessage(n int) uintptr {
	return iow(spiIocMagic, 0, uintptr(n*spiTransferSize))
}

// spiIocTransfer mirrors struct spi_ioc_transfer from linux/spi/spidev.h.
type spiIocTransfer struct {
	txBuf          uint64
	rxBuf          uint64
	len            uint32
	speedHz        uint32
	delayUsecs     uint16
	bitsPerWord    uint8
	csChange       uint8
	txNbits        uint8
	rxNbits        uint8
	wordDelayUsecs uint8
	pad            uint8
}

// =============================================================================
// sysfs GPIO Paths
// =============================================================================

// Sysfs GPIO control files.
const (
	gpioExportPath   = "/sys/class/gpio/export"
	gpioUnexportPath = "/sys/class/gpio/unexport"
	gpioBasePath     = "/sys/class/gpio"
)

// maxTransferLen bounds a single spidev message. The spidev default buffer
// is one page; SD traffic never exceeds a 512-byte block plus framing.
const maxTransferLen = 4096
