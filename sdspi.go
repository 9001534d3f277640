package sdspi

import (
	"errors"
	"sync"
	"time"

	"github.com/ardnew/sdspi/hal"
	"github.com/ardnew/sdspi/pkg"
)

// Driver limits and defaults.
const (
	blockSizeHC     = 512        // the only block size this driver supports
	initFrequency   = 100_000    // bus clock during card bring-up
	maxTransferRate = 25_000_000 // bus clock ceiling after bring-up
	goIdleRetries   = 5          // CMD0 attempts before giving up
	initClockBytes  = 10         // >= 74 clock cycles with CS deasserted
)

// CardType classifies the capacity class of an initialized card. The class
// determines whether command arguments address bytes or 512-byte blocks.
type CardType uint8

// Card capacity classes.
const (
	CardNone    CardType = iota // no card detected
	CardV1                      // v1.x standard capacity
	CardV2                      // v2.x standard capacity
	CardV2HC                    // v2.x high or extended capacity
	CardUnknown                 // unusable or unrecognized card
)

// String returns a human-readable card class name.
func (c CardType) String() string {
	switch c {
	case CardNone:
		return "none"
	case CardV1:
		return "SDv1"
	case CardV2:
		return "SDv2"
	case CardV2HC:
		return "SDHC/SDXC"
	default:
		return "unknown"
	}
}

// Device is an SD card attached to an SPI bus, exposed as a fixed-block-size
// random-access storage device.
//
// A Device is created with New, brought up with Init, and then serves Read,
// Program, and Erase requests until Deinit. All methods are safe for
// concurrent use; they serialize on an internal mutex.
type Device struct {
	bus   hal.Bus
	cs    hal.ChipSelect
	clock hal.Clock

	mu          sync.Mutex
	initialized bool

	card      CardType
	sectors   uint64
	eraseSize uint64
	blockSize uint64

	initRate     uint32
	transferRate uint32
}

// New returns a Device on the given bus and chip-select line. hz is the bus
// clock rate used for data transfer after bring-up; rates above 25 MHz are
// clamped during Init. Bring-up itself always runs at 100 kHz.
func New(bus hal.Bus, cs hal.ChipSelect, hz uint32) *Device {
	return &Device{
		bus:          bus,
		cs:           cs,
		clock:        hal.SystemClock(),
		card:         CardNone,
		blockSize:    blockSizeHC,
		initRate:     initFrequency,
		transferRate: hz,
	}
}

// SetClock replaces the time source used to bound polling loops. It must be
// called before Init; tests use it to substitute a synthetic clock.
func (d *Device) SetClock(clk hal.Clock) {
	d.clock = clk
}

// Init brings the card from power-on into SPI mode, classifies its capacity
// class, sizes it from the CSD register, fixes the block length at 512
// bytes, and switches the bus to the transfer clock rate.
//
// On failure the device remains uninitialized and data operations return
// [pkg.ErrNoInit].
func (d *Device) Init() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.initializeCard(); err != nil {
		pkg.LogWarn(pkg.ComponentDriver, "card initialization failed", "error", err)
		return err
	}

	d.sectors = d.sectorCount()
	if d.sectors == 0 {
		return pkg.ErrUnusable
	}

	// Fix the 512-byte block length (CMD16). High capacity cards ignore
	// this but standard capacity cards require it.
	if _, err := d.cmd(cmdSetBlocklen, uint32(d.blockSize)); err != nil {
		pkg.LogWarn(pkg.ComponentDriver, "set block length failed", "error", err)
		return err
	}

	// A transfer rate above the ceiling is clamped, not fatal.
	if err := d.applyFrequency(); err != nil && !errors.Is(err, pkg.ErrParameter) {
		return err
	}

	d.initialized = true
	pkg.LogInfo(pkg.ComponentDriver, "card initialized",
		"type", d.card.String(),
		"sectors", d.sectors,
		"erase_size", d.eraseSize)
	return nil
}

// Deinit marks the device uninitialized. It is idempotent and performs no
// bus activity.
func (d *Device) Deinit() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.initialized = false
	return nil
}

// Type returns the capacity class determined during Init.
func (d *Device) Type() CardType {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.card
}

// Size returns the total capacity in bytes, or 0 if uninitialized.
func (d *Device) Size() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.initialized {
		return 0
	}
	return d.sectors * d.blockSize
}

// ReadBlockSize returns the minimum readable unit in bytes.
func (d *Device) ReadBlockSize() uint64 { return blockSizeHC }

// ProgramBlockSize returns the minimum programmable unit in bytes.
func (d *Device) ProgramBlockSize() uint64 { return blockSizeHC }

// EraseBlockSize returns the erase granularity in bytes, derived from the
// CSD register during Init.
func (d *Device) EraseBlockSize() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.eraseSize
}

// SetFrequency changes the transfer clock rate. Rates above 25 MHz are
// clamped: the bus is configured at 25 MHz and [pkg.ErrParameter] is
// returned to report the adjustment.
func (d *Device) SetFrequency(hz uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.transferRate = hz
	return d.applyFrequency()
}

// Read reads size bytes starting at byte offset addr into p. addr and size
// must be multiples of the 512-byte block size and lie within the device.
func (d *Device) Read(p []byte, addr, size uint64) error {
	if err := checkBuffer(p, addr, size); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.initialized {
		return pkg.ErrNoInit
	}
	if addr+size > d.sectors*d.blockSize {
		return pkg.ErrParameter
	}

	buf := p[:size]
	blocks := size / d.blockSize

	// Standard capacity cards address bytes; high capacity cards address
	// 512-byte blocks.
	if d.card == CardV2HC {
		addr /= d.blockSize
	}

	readCmd := cmdReadSingleBlock
	if blocks > 1 {
		readCmd = cmdReadMultipleBlock
	}

	// If the start token for the first block never arrives, the read
	// command itself was likely lost: re-issue it rather than fail.
	var err error
	for i := 0; i < cmdRetries; i++ {
		if _, err = d.cmd(readCmd, uint32(addr)); err != nil {
			return err
		}
		if err = d.readData(buf[:d.blockSize]); err != nil {
			pkg.LogDebug(pkg.ComponentDriver, "first block start token lost", "attempt", i+1)
			continue
		}
		buf = buf[d.blockSize:]
		blocks--
		break
	}

	if err == nil {
		for blocks > 0 {
			if err = d.readData(buf[:d.blockSize]); err != nil {
				break
			}
			buf = buf[d.blockSize:]
			blocks--
		}
	}

	// A multi-block read is terminated by CMD12 whether or not every block
	// arrived.
	if size > d.blockSize {
		if _, stopErr := d.cmd(cmdStopTransmission, 0); err == nil {
			err = stopErr
		}
	}
	return err
}

// Program writes size bytes from p starting at byte offset addr. addr and
// size must be multiples of the 512-byte block size and lie within the
// device.
func (d *Device) Program(p []byte, addr, size uint64) error {
	if err := checkBuffer(p, addr, size); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.initialized {
		return pkg.ErrNoInit
	}
	if addr+size > d.sectors*d.blockSize {
		return pkg.ErrParameter
	}

	buf := p[:size]
	blocks := size / d.blockSize

	if d.card == CardV2HC {
		addr /= d.blockSize
	}

	if blocks == 1 {
		return d.programSingle(buf, uint32(addr))
	}
	return d.programMultiple(buf, uint32(addr), blocks)
}

// programSingle writes one block with CMD24 and probes completion with
// CMD13.
func (d *Device) programSingle(buf []byte, addr uint32) error {
	if _, err := d.cmd(cmdWriteBlock, addr); err != nil {
		return err
	}

	var werr error
	response := d.writeData(buf, tokStartBlock)
	// Only CRC and general write errors are communicated via the data
	// response token.
	if response == dataCRCError || response == dataWriteError {
		pkg.LogWarn(pkg.ComponentDriver, "single block write rejected", "token", response)
		werr = pkg.ErrWrite
	}

	// Check the programming result with SEND_STATUS.
	if _, err := d.cmd(cmdSendStatus, 0); err != nil && werr == nil {
		werr = err
	}
	return werr
}

// programMultiple writes blocks with CMD25 until all are transferred or the
// card rejects one, then terminates the transfer with the stop-transmission
// token.
func (d *Device) programMultiple(buf []byte, addr uint32, blocks uint64) error {
	// Pre-erase hint; cards that do not support it simply ignore it.
	if _, err := d.cmd(acmdSetWrBlkErase, uint32(blocks)); err != nil {
		pkg.LogDebug(pkg.ComponentDriver, "pre-erase hint rejected", "error", err)
	}

	if _, err := d.cmd(cmdWriteMultipleBlock, addr); err != nil {
		return err
	}

	response := byte(dataAccepted)
	for blocks > 0 {
		response = d.writeData(buf[:d.blockSize], tokStartBlockMult)
		if response != dataAccepted {
			pkg.LogWarn(pkg.ComponentDriver, "multiple block write rejected", "token", response)
			break
		}
		buf = buf[d.blockSize:]
		blocks--
	}

	// A multiple block write is terminated by the stop-tran token sent
	// directly on the wire in place of the next start token, not by a
	// command. Sent on success and failure alike.
	d.sel()
	d.xfer(tokStopTran)
	if !d.waitReady(cmdTimeout) {
		pkg.LogDebug(pkg.ComponentDriver, "card busy after stop token")
	}
	d.desel()

	if response == dataWriteError {
		// Ask how many blocks landed before the failure.
		if _, err := d.cmd(acmdSendNumWrBlocks, 0); err == nil {
			var wr [4]byte
			if d.readData(wr[:]) == nil {
				written := uint32(wr[0])<<24 | uint32(wr[1])<<16 | uint32(wr[2])<<8 | uint32(wr[3])
				pkg.LogWarn(pkg.ComponentDriver, "partial multiple block write",
					"blocks_written", written)
			}
		}
	}

	if response != dataAccepted {
		return pkg.ErrWrite
	}
	return nil
}

// Erase erases size bytes starting at byte offset addr. addr and size must
// be multiples of the 512-byte block size and lie within the device. Erased
// content is card-defined (all zeros or all ones).
func (d *Device) Erase(addr, size uint64) error {
	if err := checkRange(addr, size); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.initialized {
		return pkg.ErrNoInit
	}
	if addr+size > d.sectors*d.blockSize {
		return pkg.ErrParameter
	}

	// The erase range is inclusive of its end address.
	end := addr + size - d.blockSize
	if d.card == CardV2HC {
		addr /= d.blockSize
		end /= d.blockSize
	}

	if _, err := d.cmd(cmdEraseWrBlkStart, uint32(addr)); err != nil {
		return err
	}
	if _, err := d.cmd(cmdEraseWrBlkEnd, uint32(end)); err != nil {
		return err
	}
	_, err := d.cmd(cmdErase, 0)
	return err
}

// initializeCard walks the card through SPI mode entry, version and voltage
// negotiation, operating-condition polling, and capacity classification.
func (d *Device) initializeCard() error {
	d.card = CardNone
	d.spiInit()

	// CMD0 with CS asserted switches the card from SD mode to SPI mode.
	if !d.goIdleState() {
		pkg.LogWarn(pkg.ComponentDriver, "no card, or card would not enter idle state")
		return pkg.ErrNoDevice
	}

	if err := d.checkInterfaceCondition(); err != nil {
		return err
	}

	// Make the disabled wire CRC explicit; ignore the outcome.
	d.cmd(cmdCRCOnOff, 0)

	// The OCR register reports the supported voltage window.
	response, err := d.cmd(cmdReadOCR, 0)
	if err != nil {
		return err
	}
	if response&ocr33V == 0 {
		d.card = CardUnknown
		pkg.LogWarn(pkg.ComponentDriver, "card does not support 3.3V", "ocr", response)
		return pkg.ErrUnusable
	}

	// ACMD41 runs the card's initialization; its idle flag clears when
	// done. Advertise host high-capacity support for v2 cards.
	var arg uint32
	if d.card == CardV2 {
		arg |= ocrHCS
	}
	deadline := d.clock.Now().Add(cmdTimeout)
	for {
		response, err = d.cmd(acmdSDSendOpCond, arg)
		if response&r1IdleState == 0 || !d.clock.Now().Before(deadline) {
			break
		}
	}
	if err != nil || response != 0 {
		d.card = CardUnknown
		if err == nil {
			err = pkg.ErrTimeout
		}
		pkg.LogWarn(pkg.ComponentDriver, "operating condition wait failed", "error", err)
		return err
	}

	// Capacity classification: re-read the OCR for the CCS bit on v2
	// cards; a card that never answered CMD8 is v1 by definition.
	if d.card == CardV2 {
		response, err = d.cmd(cmdReadOCR, 0)
		if err != nil {
			return err
		}
		if response&ocrHCS != 0 {
			d.card = CardV2HC
		}
	} else {
		d.card = CardV1
	}
	return nil
}

// checkInterfaceCondition issues CMD8 with the fixed check pattern. Cards
// that reject the command are legacy v1 cards, which is not a failure; v2
// cards must echo the voltage range and pattern exactly.
func (d *Device) checkInterfaceCondition() error {
	arg := uint32(cmd8Voltage | cmd8Pattern)
	response, err := d.cmd(cmdSendIfCond, arg)
	if err != nil {
		if errors.Is(err, pkg.ErrUnsupported) {
			pkg.LogDebug(pkg.ComponentDriver, "CMD8 rejected, assuming v1 card")
			return nil
		}
		return err
	}
	if d.card == CardV2 && response&0xFFF != arg {
		pkg.LogWarn(pkg.ComponentDriver, "CMD8 pattern mismatch",
			"sent", arg, "echoed", response&0xFFF)
		d.card = CardUnknown
		return pkg.ErrUnusable
	}
	return nil
}

// goIdleState issues CMD0 until the card reports exactly the idle status.
// The first CMD0 after a host-only reset is often lost; retrying recovers
// cards that were not power cycled with the host.
func (d *Device) goIdleState() bool {
	for i := 0; i < goIdleRetries; i++ {
		response, _ := d.cmd(cmdGoIdleState, 0)
		if response == r1IdleState {
			return true
		}
		d.clock.Sleep(time.Millisecond)
	}
	return false
}

// spiInit configures the bus for bring-up and clocks the card with chip
// select deasserted, as required before SPI mode entry.
func (d *Device) spiInit() {
	d.bus.Lock()
	if err := d.configureBus(d.initRate); err != nil {
		pkg.LogWarn(pkg.ComponentDriver, "bus configuration failed", "error", err)
	}
	d.cs.High()
	d.spiWait(initClockBytes)
	d.bus.Unlock()
}

// applyFrequency configures the transfer clock rate, clamping to the 25 MHz
// ceiling. A clamped request still configures the bus but reports
// [pkg.ErrParameter].
func (d *Device) applyFrequency() error {
	if d.transferRate > maxTransferRate {
		d.transferRate = maxTransferRate
		d.bus.Lock()
		if err := d.configureBus(d.transferRate); err != nil {
			pkg.LogWarn(pkg.ComponentDriver, "bus configuration failed", "error", err)
		}
		d.bus.Unlock()
		return pkg.ErrParameter
	}
	d.bus.Lock()
	err := d.configureBus(d.transferRate)
	d.bus.Unlock()
	return err
}

// configureBus applies the SD card frame format at the given clock rate.
// The caller holds the bus lock.
func (d *Device) configureBus(hz uint32) error {
	return d.bus.Configure(hal.Config{
		Frequency: hz,
		Mode:      hal.Mode0,
		Fill:      fillByte,
	})
}

// checkBuffer validates a data operation's buffer and range before any bus
// activity.
func checkBuffer(p []byte, addr, size uint64) error {
	if p == nil || uint64(len(p)) < size {
		return pkg.ErrParameter
	}
	return checkRange(addr, size)
}

// checkRange validates block alignment before any bus activity.
func checkRange(addr, size uint64) error {
	if size == 0 || size%blockSizeHC != 0 || addr%blockSizeHC != 0 {
		return pkg.ErrParameter
	}
	return nil
}
