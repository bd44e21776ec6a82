package orchestrator

import (
	"errors"
	"fmt"

	"github.com/roach88/dersweep/internal/device"
	"github.com/roach88/dersweep/internal/recorder"
	"github.com/roach88/dersweep/internal/startup"
)

// Error codes not carried by a typed error.
const (
	ErrCodePanic    = "PANIC"
	ErrCodeRecorder = "RECORDER"
	ErrCodeRun      = "RUN_ERROR"
)

// PanicError wraps a panic recovered from a procedure.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("%s: procedure panicked: %v", ErrCodePanic, e.Value)
}

// IsPanicError reports whether err is a recovered panic.
func IsPanicError(err error) bool {
	var pe *PanicError
	return errors.As(err, &pe)
}

// ErrorCode classifies err for logs and metrics. For a joined error the
// first error decides, so a release failure during Finalizing never masks
// the error that ended the run.
func ErrorCode(err error) string {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range joined.Unwrap() {
			if e != nil {
				return ErrorCode(e)
			}
		}
	}

	var de *device.Error
	switch {
	case err == nil:
		return ""
	case errors.As(err, &de):
		return string(de.Code)
	case startup.IsTimeoutError(err):
		return startup.ErrCodeTimeout
	case recorder.IsChannelError(err):
		return "CHANNEL_UNAVAILABLE"
	case IsPanicError(err):
		return ErrCodePanic
	case errors.Is(err, recorder.ErrNoWindow),
		errors.Is(err, recorder.ErrWindowOpen),
		errors.Is(err, recorder.ErrAlreadyExported),
		errors.Is(err, recorder.ErrNoDAQ):
		return ErrCodeRecorder
	default:
		return ErrCodeRun
	}
}
