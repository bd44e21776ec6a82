package device

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes device failures.
type ErrorCode string

const (
	// ErrCodeInit indicates a device could not be opened or configured.
	ErrCodeInit ErrorCode = "DEVICE_INIT"

	// ErrCodeComm indicates a read or write to an open device failed.
	ErrCodeComm ErrorCode = "DEVICE_COMM"
)

// Error is a failure attributed to one bench device.
type Error struct {
	Code ErrorCode
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s %s: %v", e.Code, e.Kind, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %s %s", e.Code, e.Kind, e.Op)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// InitError creates a DEVICE_INIT error.
func InitError(kind Kind, op string, err error) *Error {
	return &Error{Code: ErrCodeInit, Kind: kind, Op: op, Err: err}
}

// CommError creates a DEVICE_COMM error.
func CommError(kind Kind, op string, err error) *Error {
	return &Error{Code: ErrCodeComm, Kind: kind, Op: op, Err: err}
}

// Comm wraps err as a DEVICE_COMM error. Returns nil when err is nil so
// driver calls can be wrapped inline. An err that already is a device
// Error is returned unchanged.
func Comm(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		return err
	}
	return CommError(kind, op, err)
}

// IsInitError reports whether err is a DEVICE_INIT error.
func IsInitError(err error) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == ErrCodeInit
	}
	return false
}

// IsCommError reports whether err is a DEVICE_COMM error.
func IsCommError(err error) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == ErrCodeComm
	}
	return false
}
