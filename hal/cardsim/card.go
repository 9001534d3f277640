package cardsim

import (
	"sync"

	"github.com/ardnew/sdspi/hal"
	"github.com/ardnew/sdspi/pkg"
)

// Version selects which kind of card the simulator presents.
type Version int

// Simulated card kinds.
const (
	V1   Version = iota + 1 // v1.x standard capacity, rejects CMD8
	V2                      // v2.x standard capacity
	V2HC                    // v2.x high capacity, block addressed
)

// R1 flags and data tokens as seen on the wire.
const (
	r1Idle       = 0x01
	r1Illegal    = 0x04
	r1AddressErr = 0x20
	r1ParamErr   = 0x40

	tokStartBlock     = 0xFE
	tokStartBlockMult = 0xFC
	tokStopTran       = 0xFD

	respAccepted   = 0x05
	respWriteError = 0x0D
)

const blockSize = 512

// eraseFill is the value erased blocks read back as.
const eraseFill = 0x00

// CommandRecord is one command frame executed by the card, as recorded in
// the command log.
type CommandRecord struct {
	Op  uint8  // opcode, 0-63
	App bool   // true if escaped by CMD55
	Arg uint32 // 32-bit argument
}

// ioState tracks what the card expects next on its input line.
type ioState int

const (
	stateCommand    ioState = iota // collecting a command frame
	stateWriteToken                // waiting for a data start or stop token
	stateWriteData                 // collecting a block payload and CRC
)

// Card is a simulated SD card. It implements [hal.Bus] and [hal.ChipSelect]
// so a single Card can be passed to the driver as both collaborators.
//
// The zero value is not usable; create Cards with [New]. Fault-injection
// fields may be set at any point before the traffic they affect.
type Card struct {
	// Cmd0Failures makes the card answer the first n CMD0 frames with a
	// non-idle status, as a card that missed the frame would.
	Cmd0Failures int

	// AcmdPolls is the number of ACMD41 frames answered with the idle flag
	// still set before initialization completes.
	AcmdPolls int

	// DropReadTokens suppresses the data token after the first n read
	// commands, simulating a lost command.
	DropReadTokens int

	// WriteErrorAtBlock rejects the nth written data block (1-based, counted
	// across the Card's lifetime) with a write-error token. Zero disables.
	WriteErrorAtBlock int

	// MangleCmd8Pattern corrupts the pattern echoed in the CMD8 response.
	MangleCmd8Pattern bool

	// Without33V clears the 3.3V bit in the OCR register.
	Without33V bool

	version Version
	img     Image

	busMu      sync.Mutex
	lastConfig hal.Config
	exchanges  int

	selected    bool
	idle        bool
	initialized bool
	appPending  bool

	state    ioState
	frame    [6]byte
	frameLen int

	out []byte // pending output bytes; empty reads as 0xFF

	multiRead bool
	readAddr  uint64

	multiWrite bool
	writeAddr  uint64
	writeBuf   [blockSize + 2]byte // payload + CRC16
	writeLen   int

	writeCount  int // data blocks received, lifetime
	wellWritten uint32
	stopTokens  int

	eraseStart uint32
	eraseEnd   uint32

	log []CommandRecord
}

// New creates a simulated card of the given version over img. The image
// size should be a multiple of 256 KiB for standard capacity versions and
// 512 KiB for V2HC, matching the granularity of the CSD geometry fields;
// excess is not advertised.
func New(version Version, img Image) *Card {
	return &Card{
		version:   version,
		img:       img,
		AcmdPolls: 1,
	}
}

// Commands returns a copy of the executed-command log.
func (c *Card) Commands() []CommandRecord {
	out := make([]CommandRecord, len(c.log))
	copy(out, c.log)
	return out
}

// ClearCommands empties the executed-command log.
func (c *Card) ClearCommands() {
	c.log = c.log[:0]
}

// Exchanges returns the number of bytes exchanged with the card, selected
// or not.
func (c *Card) Exchanges() int {
	return c.exchanges
}

// StopTokens returns the number of stop-transmission tokens received during
// multiple block writes.
func (c *Card) StopTokens() int {
	return c.stopTokens
}

// LastConfig returns the bus parameters most recently applied with
// Configure.
func (c *Card) LastConfig() hal.Config {
	return c.lastConfig
}

// =============================================================================
// hal.Bus and hal.ChipSelect
// =============================================================================

// Configure records the requested bus parameters.
func (c *Card) Configure(cfg hal.Config) error {
	c.lastConfig = cfg
	pkg.LogDebug(pkg.ComponentSim, "bus configured",
		"frequency", cfg.Frequency, "mode", uint8(cfg.Mode))
	return nil
}

// Transfer exchanges one byte with the card. While deselected the card
// tri-states its output and ignores its input.
func (c *Card) Transfer(b byte) (byte, error) {
	c.exchanges++
	if !c.selected {
		return 0xFF, nil
	}
	out := c.pop()
	c.accept(b)
	return out, nil
}

// Tx exchanges a burst byte by byte.
func (c *Card) Tx(w, r []byte) error {
	n := len(w)
	if w == nil {
		n = len(r)
	}
	for i := 0; i < n; i++ {
		out := c.lastConfig.Fill
		if w != nil {
			out = w[i]
		}
		in, err := c.Transfer(out)
		if err != nil {
			return err
		}
		if r != nil {
			r[i] = in
		}
	}
	return nil
}

// Lock acquires the simulated bus.
func (c *Card) Lock() { c.busMu.Lock() }

// Unlock releases the simulated bus.
func (c *Card) Unlock() { c.busMu.Unlock() }

// High deselects the card. A partially received command frame is dropped;
// queued output and transfer state survive, as they do on a real card.
func (c *Card) High() {
	c.selected = false
	c.frameLen = 0
}

// Low selects the card.
func (c *Card) Low() {
	c.selected = true
}

// =============================================================================
// Output queue
// =============================================================================

// pop returns the next output byte. An idle output line reads as 0xFF. An
// active multi-block read refills the queue one block at a time as it
// drains.
func (c *Card) pop() byte {
	if len(c.out) == 0 && c.multiRead {
		c.queueReadBlock()
	}
	if len(c.out) == 0 {
		return 0xFF
	}
	b := c.out[0]
	c.out = c.out[1:]
	return b
}

// respond queues a response-time gap, the R1 status byte, and any tail.
func (c *Card) respond(r1 byte, tail ...byte) {
	c.out = append(c.out, 0xFF, r1)
	c.out = append(c.out, tail...)
}

// respondBusy queues an R1b response: status followed by a busy byte.
func (c *Card) respondBusy(r1 byte) {
	c.respond(r1)
	c.out = append(c.out, 0x00)
}

// queueReadBlock emits the next block of an active multi-block read.
func (c *Card) queueReadBlock() {
	var block [blockSize]byte
	if c.readAddr+blockSize > c.img.Size() {
		c.multiRead = false
		return
	}
	if err := c.img.Read(c.readAddr, block[:]); err != nil {
		pkg.LogWarn(pkg.ComponentSim, "image read failed", "error", err)
		c.multiRead = false
		return
	}
	c.readAddr += blockSize
	c.queueData(block[:])
}

// queueData emits one token-framed data payload with a dummy CRC16.
func (c *Card) queueData(payload []byte) {
	c.out = append(c.out, 0xFF, tokStartBlock)
	c.out = append(c.out, payload...)
	c.out = append(c.out, 0x00, 0x00)
}

// =============================================================================
// Input state machine
// =============================================================================

// accept consumes one input byte.
func (c *Card) accept(b byte) {
	switch c.state {
	case stateWriteToken:
		c.acceptToken(b)
	case stateWriteData:
		c.acceptData(b)
	default:
		c.acceptCommand(b)
	}
}

// acceptCommand collects 6-byte command frames.
func (c *Card) acceptCommand(b byte) {
	if c.frameLen == 0 {
		// Start bit clear, transmission bit set.
		if b&0xC0 != 0x40 {
			return
		}
	}
	c.frame[c.frameLen] = b
	c.frameLen++
	if c.frameLen == len(c.frame) {
		c.frameLen = 0
		op := c.frame[0] & 0x3F
		arg := uint32(c.frame[1])<<24 | uint32(c.frame[2])<<16 |
			uint32(c.frame[3])<<8 | uint32(c.frame[4])
		c.exec(op, arg)
	}
}

// acceptToken waits for the start or stop token of a write transfer.
func (c *Card) acceptToken(b byte) {
	switch {
	case b == tokStartBlock && !c.multiWrite:
		c.state = stateWriteData
		c.writeLen = 0
	case b == tokStartBlockMult && c.multiWrite:
		c.state = stateWriteData
		c.writeLen = 0
	case b == tokStopTran && c.multiWrite:
		// End of multi-block write; card goes busy while it finishes.
		c.stopTokens++
		c.multiWrite = false
		c.state = stateCommand
		c.out = append(c.out, 0x00)
	}
	// Fill bytes between blocks are ignored.
}

// acceptData collects a block payload plus its CRC, then emits the data
// response token.
func (c *Card) acceptData(b byte) {
	c.writeBuf[c.writeLen] = b
	c.writeLen++
	if c.writeLen < len(c.writeBuf) {
		return
	}

	c.writeCount++
	if c.WriteErrorAtBlock != 0 && c.writeCount == c.WriteErrorAtBlock {
		pkg.LogDebug(pkg.ComponentSim, "injecting write error", "block", c.writeCount)
		c.out = append(c.out, respWriteError, 0x00)
	} else if err := c.img.Write(c.writeAddr, c.writeBuf[:blockSize]); err != nil {
		pkg.LogWarn(pkg.ComponentSim, "image write failed", "error", err)
		c.out = append(c.out, respWriteError, 0x00)
	} else {
		c.out = append(c.out, respAccepted, 0x00)
		c.writeAddr += blockSize
		c.wellWritten++
	}

	if c.multiWrite {
		c.state = stateWriteToken
	} else {
		c.state = stateCommand
	}
}

// =============================================================================
// Command execution
// =============================================================================

// byteAddr translates a command address argument to a byte offset.
func (c *Card) byteAddr(arg uint32) uint64 {
	if c.version == V2HC {
		return uint64(arg) * blockSize
	}
	return uint64(arg)
}

// r1 returns the base status byte for the current card state.
func (c *Card) r1() byte {
	if c.idle {
		return r1Idle
	}
	return 0
}

func (c *Card) exec(op uint8, arg uint32) {
	app := c.appPending
	c.appPending = false
	c.log = append(c.log, CommandRecord{Op: op, App: app, Arg: arg})
	pkg.LogDebug(pkg.ComponentSim, "command", "op", op, "app", app, "arg", arg)

	if app {
		c.execApp(op, arg)
		return
	}

	switch op {
	case 0: // GO_IDLE_STATE
		if c.Cmd0Failures > 0 {
			c.Cmd0Failures--
			c.respond(0x00)
			return
		}
		c.idle = true
		c.initialized = false
		c.respond(r1Idle)

	case 8: // SEND_IF_COND
		if c.version == V1 {
			c.respond(c.r1() | r1Illegal)
			return
		}
		echo := arg
		if c.MangleCmd8Pattern {
			echo ^= 0xFF
		}
		c.respond(c.r1(),
			byte(echo>>24), byte(echo>>16), byte(echo>>8), byte(echo))

	case 9: // SEND_CSD
		c.respond(c.r1())
		csd := c.buildCSD()
		c.queueData(csd[:])

	case 12: // STOP_TRANSMISSION
		c.multiRead = false
		c.out = c.out[:0]
		c.respondBusy(c.r1())

	case 13: // SEND_STATUS, R2
		c.respond(c.r1(), 0x00)

	case 16: // SET_BLOCKLEN
		if arg != blockSize {
			c.respond(c.r1() | r1ParamErr)
			return
		}
		c.respond(c.r1())

	case 17, 18: // READ_SINGLE_BLOCK, READ_MULTIPLE_BLOCK
		addr := c.byteAddr(arg)
		if addr+blockSize > c.img.Size() {
			c.respond(c.r1() | r1AddressErr)
			return
		}
		c.respond(c.r1())
		if c.DropReadTokens > 0 {
			c.DropReadTokens--
			return
		}
		c.readAddr = addr
		c.multiRead = op == 18
		c.queueReadBlock()
		if op == 17 {
			c.multiRead = false
		}

	case 24, 25: // WRITE_BLOCK, WRITE_MULTIPLE_BLOCK
		addr := c.byteAddr(arg)
		if addr+blockSize > c.img.Size() {
			c.respond(c.r1() | r1AddressErr)
			return
		}
		c.respond(c.r1())
		c.writeAddr = addr
		c.multiWrite = op == 25
		c.wellWritten = 0
		c.state = stateWriteToken

	case 32: // ERASE_WR_BLK_START_ADDR
		c.eraseStart = arg
		c.respond(c.r1())

	case 33: // ERASE_WR_BLK_END_ADDR
		c.eraseEnd = arg
		c.respond(c.r1())

	case 38: // ERASE
		c.eraseRange()
		c.respondBusy(c.r1())

	case 55: // APP_CMD
		c.appPending = true
		c.respond(c.r1())

	case 58: // READ_OCR
		var ocr uint32
		if !c.Without33V {
			ocr |= 0x1 << 20
		}
		if c.version == V2HC && c.initialized {
			ocr |= 0x1 << 30
		}
		c.respond(c.r1(),
			byte(ocr>>24), byte(ocr>>16), byte(ocr>>8), byte(ocr))

	case 59: // CRC_ON_OFF
		c.respond(c.r1())

	default:
		c.respond(c.r1() | r1Illegal)
	}
}

func (c *Card) execApp(op uint8, arg uint32) {
	switch op {
	case 22: // SEND_NUM_WR_BLOCKS
		c.respond(c.r1())
		n := c.wellWritten
		c.queueData([]byte{byte(n >> 24), byte(n >> 16), byte(n >> 8), byte(n)})

	case 23: // SET_WR_BLK_ERASE_COUNT
		c.respond(c.r1())

	case 41: // SD_SEND_OP_COND
		if c.AcmdPolls > 0 {
			c.AcmdPolls--
			c.respond(r1Idle)
			return
		}
		c.idle = false
		c.initialized = true
		c.respond(0x00)

	default:
		c.respond(c.r1() | r1Illegal)
	}
}

// eraseRange fills the selected range with the erase pattern.
func (c *Card) eraseRange() {
	start := c.byteAddr(c.eraseStart)
	end := c.byteAddr(c.eraseEnd) + blockSize // end address is inclusive
	if start >= end || end > c.img.Size() {
		return
	}
	blank := make([]byte, blockSize)
	for i := range blank {
		blank[i] = eraseFill
	}
	for off := start; off < end; off += blockSize {
		if err := c.img.Write(off, blank); err != nil {
			pkg.LogWarn(pkg.ComponentSim, "image erase failed", "error", err)
			return
		}
	}
}
