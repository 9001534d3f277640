package pkg

import "errors"

// SD protocol errors.
var (
	// ErrNoDevice indicates no card responded, or command retries were
	// exhausted without a response.
	ErrNoDevice = errors.New("no device")

	// ErrNoResponse indicates an expected data start token or response
	// never arrived within its timeout.
	ErrNoResponse = errors.New("no response")

	// ErrCRC indicates the card reported a command CRC error.
	ErrCRC = errors.New("CRC error")

	// ErrUnsupported indicates the card rejected a command as illegal.
	ErrUnsupported = errors.New("unsupported command")

	// ErrParameter indicates a bad caller-supplied range, or the card
	// flagged an address or parameter error.
	ErrParameter = errors.New("invalid parameter")

	// ErrUnusable indicates the card failed voltage or check-pattern
	// verification during bring-up.
	ErrUnusable = errors.New("unusable card")

	// ErrErase indicates the card flagged an erase reset or erase
	// sequence error.
	ErrErase = errors.New("erase error")

	// ErrWrite indicates a data response token signalled a failed write.
	ErrWrite = errors.New("write error")

	// ErrNoInit indicates an operation was attempted before a successful
	// initialization.
	ErrNoInit = errors.New("not initialized")

	// ErrTimeout indicates a bounded polling loop exceeded its deadline
	// without the card reporting an error of its own.
	ErrTimeout = errors.New("timeout")

	// ErrBusy indicates the resource is busy.
	ErrBusy = errors.New("resource busy")
)
