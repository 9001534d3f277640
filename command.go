package sdspi

import (
	"github.com/ardnew/sdspi/pkg"
)

// R1 response flags.
const (
	r1NoResponse         = 0xFF
	r1ResponseRecv       = 0x80
	r1IdleState          = 1 << 0
	r1EraseReset         = 1 << 1
	r1IllegalCommand     = 1 << 2
	r1ComCRCError        = 1 << 3
	r1EraseSequenceError = 1 << 4
	r1AddressError       = 1 << 5
	r1ParameterError     = 1 << 6
)

// OCR register bits.
const (
	ocrHCS = 0x1 << 30 // card capacity status (CCS) / host capacity support
	ocr33V = 0x1 << 20 // 3.2-3.3V supported
)

// CMD8 argument fields.
const (
	cmd8Pattern = 0xAA     // check pattern, echoed by the card
	cmd8Voltage = 0x1 << 8 // 2.7-3.6V supply voltage (VHS)
)

// Data transfer control tokens.
const (
	dataResponseMask  = 0x1F
	dataAccepted      = 0x05
	dataCRCError      = 0x0B
	dataWriteError    = 0x0D
	tokStartBlock     = 0xFE // single block read/write, multiple block read
	tokStartBlockMult = 0xFC // start of a multiple-block-write block
	tokStopTran       = 0xFD // terminates a multiple block write
)

// Precomputed CRC7 frame checksums. CMD0 is executed before SPI mode entry
// and CMD8 is always CRC-verified, so these two frames need real checksums.
// Every other command is sent after CRC has been disabled.
const (
	crcGoIdleState = 0x95
	crcSendIfCond  = 0x87
	crcDisabled    = 0xFF // end bit high, checksum ignored by the card
)

const (
	frameSize     = 6  // start bits + opcode, 32-bit argument, checksum
	responsePolls = 16 // max exchanges while polling for a response byte
	cmdRetries    = 3  // attempts before declaring the device missing
)

// respKind selects the response tail read after the R1 status byte.
type respKind uint8

const (
	respR1  respKind = iota // status byte only
	respR1b                 // status byte, then busy until non-zero
	respR2                  // status byte plus one extra status byte
	respR3                  // status byte plus 32-bit OCR register
	respR7                  // status byte plus 32-bit echoed argument
)

// command describes one entry of the fixed SD command catalog: its opcode,
// whether it must be escaped with CMD55, and the response tail it produces.
type command struct {
	op   uint8
	app  bool
	resp respKind
}

// The command catalog. Application-specific commands share the opcode space
// with regular commands and are distinguished only by the CMD55 escape.
var (
	cmdGoIdleState        = command{op: 0}                  // reset into idle state
	cmdSendIfCond         = command{op: 8, resp: respR7}    // supply voltage probe
	cmdSendCSD            = command{op: 9}                  // card specific data
	cmdStopTransmission   = command{op: 12, resp: respR1b}  // end multi-block read
	cmdSendStatus         = command{op: 13, resp: respR2}   // card status
	cmdSetBlocklen        = command{op: 16}                 // block length for SC cards
	cmdReadSingleBlock    = command{op: 17}                 // read one block
	cmdReadMultipleBlock  = command{op: 18}                 // read until CMD12
	cmdWriteBlock         = command{op: 24}                 // write one block
	cmdWriteMultipleBlock = command{op: 25}                 // write until stop token
	cmdEraseWrBlkStart    = command{op: 32}                 // first block to erase
	cmdEraseWrBlkEnd      = command{op: 33}                 // last block to erase
	cmdErase              = command{op: 38, resp: respR1b}  // erase selected range
	cmdAppCmd             = command{op: 55}                 // escape for ACMDs
	cmdReadOCR            = command{op: 58, resp: respR3}   // operating conditions
	cmdCRCOnOff           = command{op: 59}                 // toggle wire CRC
	acmdSendNumWrBlocks   = command{op: 22, app: true}      // well-written block count
	acmdSetWrBlkErase     = command{op: 23, app: true}      // pre-erase hint
	acmdSDSendOpCond      = command{op: 41, app: true}      // operating condition poll
)

// frameChecksum returns the trailing byte of the 6-byte command frame.
func frameChecksum(c command) byte {
	if c.app {
		return crcDisabled
	}
	switch c.op {
	case cmdGoIdleState.op:
		return crcGoIdleState
	case cmdSendIfCond.op:
		return crcSendIfCond
	default:
		return crcDisabled
	}
}

// cmdSPI writes a single command frame and polls for its R1 status byte.
// It assumes the card is already selected. Returns r1NoResponse if no byte
// with the response-received marker clear arrives within responsePolls
// exchanges.
func (d *Device) cmdSPI(c command, arg uint32) byte {
	frame := [frameSize]byte{
		0x40 | (c.op & 0x3F),
		byte(arg >> 24),
		byte(arg >> 16),
		byte(arg >> 8),
		byte(arg),
		frameChecksum(c),
	}
	if !d.xferBlock(frame[:], nil) {
		return r1NoResponse
	}

	// The byte immediately following CMD12 is a stuff byte and must be
	// discarded before polling for the response.
	if c.op == cmdStopTransmission.op && !c.app {
		d.xfer(fillByte)
	}

	for i := 0; i < responsePolls; i++ {
		response := d.xfer(fillByte)
		if response&r1ResponseRecv == 0 {
			return response
		}
	}
	return r1NoResponse
}

// cmd runs one complete command transaction: select, issue (with CMD55
// escape and retries), classify the status byte, read the response tail for
// the command's response kind, and deselect. The card is deselected on every
// exit path.
//
// The returned value is the R1 status byte for R1/R1b commands, the extra
// status byte for R2, and the 32-bit payload for R3/R7.
func (d *Device) cmd(c command, arg uint32) (uint32, error) {
	d.sel()
	// A card still busy from a prior operation is allowed to proceed: the
	// command below will fail on its own if the card is genuinely not ready.
	if !d.waitReady(cmdTimeout) {
		pkg.LogDebug(pkg.ComponentCommand, "card not ready before command", "cmd", c.op)
	}

	status := byte(r1NoResponse)
	for i := 0; i < cmdRetries; i++ {
		if c.app {
			d.cmdSPI(cmdAppCmd, 0)
		}
		status = d.cmdSPI(c, arg)
		if status == r1NoResponse {
			pkg.LogDebug(pkg.ComponentCommand, "no response", "cmd", c.op, "attempt", i+1)
			continue
		}
		break
	}

	resp := uint32(status)
	if status == r1NoResponse {
		d.desel()
		pkg.LogWarn(pkg.ComponentCommand, "command retries exhausted", "cmd", c.op)
		return resp, pkg.ErrNoDevice
	}
	if status&r1ComCRCError != 0 {
		d.desel()
		pkg.LogWarn(pkg.ComponentCommand, "command CRC error", "cmd", c.op)
		return resp, pkg.ErrCRC
	}
	if status&r1IllegalCommand != 0 {
		// A card rejecting the voltage probe does not speak the v2
		// command set.
		if c == cmdSendIfCond {
			d.card = CardUnknown
		}
		d.desel()
		pkg.LogDebug(pkg.ComponentCommand, "illegal command", "cmd", c.op)
		return resp, pkg.ErrUnsupported
	}

	var err error
	if status&(r1EraseReset|r1EraseSequenceError) != 0 {
		err = pkg.ErrErase
	} else if status&(r1AddressError|r1ParameterError) != 0 {
		err = pkg.ErrParameter
	}

	switch c.resp {
	case respR7:
		// Any well-formed CMD8 answer promotes the card to v2; the echoed
		// pattern is verified by the caller.
		d.card = CardV2
		resp = d.responseTail()
	case respR3:
		resp = d.responseTail()
	case respR1b:
		d.waitReady(cmdTimeout)
	case respR2:
		resp = uint32(d.xfer(fillByte))
	}

	d.desel()
	pkg.LogDebug(pkg.ComponentCommand, "command complete",
		"cmd", c.op, "arg", arg, "response", resp)
	return resp, err
}

// responseTail reads the 4-byte big-endian payload shared by the R3 and R7
// response formats.
func (d *Device) responseTail() uint32 {
	tail := uint32(d.xfer(fillByte)) << 24
	tail |= uint32(d.xfer(fillByte)) << 16
	tail |= uint32(d.xfer(fillByte)) << 8
	tail |= uint32(d.xfer(fillByte))
	return tail
}
