package sdspi

import (
	"errors"
	"testing"

	"github.com/ardnew/sdspi/hal"
	"github.com/ardnew/sdspi/pkg"
)

// respBus records command frames and answers each one with a fixed R1 status
// byte. With silent set it never answers at all.
type respBus struct {
	status byte
	silent bool

	frame    [6]byte
	frameLen int
	frames   [][6]byte
	out      []byte
}

func (b *respBus) Configure(hal.Config) error { return nil }

func (b *respBus) Transfer(v byte) (byte, error) {
	out := byte(0xFF)
	if len(b.out) > 0 {
		out = b.out[0]
		b.out = b.out[1:]
	}
	if b.frameLen == 0 && v&0xC0 != 0x40 {
		return out, nil
	}
	b.frame[b.frameLen] = v
	b.frameLen++
	if b.frameLen == len(b.frame) {
		b.frameLen = 0
		b.frames = append(b.frames, b.frame)
		if !b.silent {
			b.out = append(b.out, 0xFF, b.status)
		}
	}
	return out, nil
}

func (b *respBus) Tx(w, r []byte) error {
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

func (b *respBus) Lock()   {}
func (b *respBus) Unlock() {}
func (b *respBus) High()   {}
func (b *respBus) Low()    {}

func respDevice(bus *respBus) *Device {
	d := New(bus, bus, 1_000_000)
	d.SetClock(&fakeClock{})
	return d
}

func TestFrameChecksum(t *testing.T) {
	tests := []struct {
		name string
		cmd  command
		want byte
	}{
		{"go_idle", cmdGoIdleState, crcGoIdleState},
		{"send_if_cond", cmdSendIfCond, crcSendIfCond},
		{"read_single", cmdReadSingleBlock, crcDisabled},
		{"op_cond", acmdSDSendOpCond, crcDisabled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := frameChecksum(tt.cmd); got != tt.want {
				t.Errorf("frameChecksum(%d) = %#x, want %#x", tt.cmd.op, got, tt.want)
			}
		})
	}
}

func TestCommandFrame(t *testing.T) {
	bus := &respBus{status: 0x00}
	d := respDevice(bus)

	if _, err := d.cmd(cmdReadSingleBlock, 0xAABBCCDD); err != nil {
		t.Fatalf("cmd: %v", err)
	}
	if len(bus.frames) != 1 {
		t.Fatalf("frames = %d, want 1", len(bus.frames))
	}
	want := [6]byte{0x40 | 17, 0xAA, 0xBB, 0xCC, 0xDD, crcDisabled}
	if bus.frames[0] != want {
		t.Errorf("frame = %#v, want %#v", bus.frames[0], want)
	}
}

func TestAppCommandEscape(t *testing.T) {
	bus := &respBus{status: 0x00}
	d := respDevice(bus)

	if _, err := d.cmd(acmdSetWrBlkErase, 7); err != nil {
		t.Fatalf("cmd: %v", err)
	}
	if len(bus.frames) != 2 {
		t.Fatalf("frames = %d, want 2", len(bus.frames))
	}
	if op := bus.frames[0][0] & 0x3F; op != cmdAppCmd.op {
		t.Errorf("first frame opcode = %d, want %d", op, cmdAppCmd.op)
	}
	if op := bus.frames[1][0] & 0x3F; op != acmdSetWrBlkErase.op {
		t.Errorf("second frame opcode = %d, want %d", op, acmdSetWrBlkErase.op)
	}
	if arg := bus.frames[1][4]; arg != 7 {
		t.Errorf("second frame argument low byte = %d, want 7", arg)
	}
}

func TestStatusClassification(t *testing.T) {
	tests := []struct {
		name    string
		status  byte
		silent  bool
		wantErr error
	}{
		{"clean", 0x00, false, nil},
		{"idle_only", r1IdleState, false, nil},
		{"crc_error", r1ComCRCError, false, pkg.ErrCRC},
		{"illegal_command", r1IllegalCommand, false, pkg.ErrUnsupported},
		{"erase_reset", r1EraseReset, false, pkg.ErrErase},
		{"erase_sequence", r1EraseSequenceError, false, pkg.ErrErase},
		{"address_error", r1AddressError, false, pkg.ErrParameter},
		{"parameter_error", r1ParameterError, false, pkg.ErrParameter},
		{"no_response", 0x00, true, pkg.ErrNoDevice},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bus := &respBus{status: tt.status, silent: tt.silent}
			d := respDevice(bus)
			_, err := d.cmd(cmdSetBlocklen, blockSizeHC)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("cmd error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestNoResponseRetries(t *testing.T) {
	bus := &respBus{silent: true}
	d := respDevice(bus)

	if _, err := d.cmd(cmdSendStatus, 0); !errors.Is(err, pkg.ErrNoDevice) {
		t.Fatalf("cmd error = %v, want %v", err, pkg.ErrNoDevice)
	}
	if len(bus.frames) != cmdRetries {
		t.Errorf("frames = %d, want %d", len(bus.frames), cmdRetries)
	}
}

func TestIfCondRejectionMarksCard(t *testing.T) {
	bus := &respBus{status: r1IdleState | r1IllegalCommand}
	d := respDevice(bus)

	_, err := d.cmd(cmdSendIfCond, cmd8Voltage|cmd8Pattern)
	if !errors.Is(err, pkg.ErrUnsupported) {
		t.Fatalf("cmd error = %v, want %v", err, pkg.ErrUnsupported)
	}
	if d.card != CardUnknown {
		t.Errorf("card = %v, want %v", d.card, CardUnknown)
	}
}

func TestIfCondAnswerPromotesCard(t *testing.T) {
	bus := &respBus{status: r1IdleState}
	d := respDevice(bus)

	if _, err := d.cmd(cmdSendIfCond, cmd8Voltage|cmd8Pattern); err != nil {
		t.Fatalf("cmd: %v", err)
	}
	if d.card != CardV2 {
		t.Errorf("card = %v, want %v", d.card, CardV2)
	}
}
