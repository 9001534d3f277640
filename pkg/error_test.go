package pkg

import (
	"errors"
	"fmt"
	"testing"
)

func TestSentinelErrors_Distinct(t *testing.T) {
	sentinels := []error{
		ErrNoDevice,
		ErrNoResponse,
		ErrCRC,
		ErrUnsupported,
		ErrParameter,
		ErrUnusable,
		ErrErase,
		ErrWrite,
		ErrNoInit,
		ErrTimeout,
		ErrBusy,
	}

	for i, a := range sentinels {
		for j, b := range sentinels {
			if i != j && errors.Is(a, b) {
				t.Errorf("sentinel %v should not match %v", a, b)
			}
		}
	}
}

func TestSentinelErrors_Wrapped(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"no device", fmt.Errorf("init: %w", ErrNoDevice), ErrNoDevice},
		{"crc", fmt.Errorf("cmd 17: %w", ErrCRC), ErrCRC},
		{"write", fmt.Errorf("block 3: %w", ErrWrite), ErrWrite},
		{"timeout", fmt.Errorf("acmd41: %w", ErrTimeout), ErrTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.want) {
				t.Errorf("errors.Is(%v, %v) = false, want true", tt.err, tt.want)
			}
		})
	}
}

func TestSentinelErrors_Messages(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{ErrNoDevice, "no device"},
		{ErrNoResponse, "no response"},
		{ErrCRC, "CRC error"},
		{ErrUnsupported, "unsupported command"},
		{ErrParameter, "invalid parameter"},
		{ErrUnusable, "unusable card"},
		{ErrErase, "erase error"},
		{ErrWrite, "write error"},
		{ErrNoInit, "not initialized"},
		{ErrTimeout, "timeout"},
	}

	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("Error() = %q, want %q", got, tt.want)
		}
	}
}
