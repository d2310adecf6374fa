package capture

import (
	"errors"
	"fmt"
)

// Errors reported by the OS boundary. Backends wrap their native status codes
// so that errors.Is matches one of these.
var (
	ErrWaitTimeout           = errors.New("wait timeout")
	ErrNotCurrentlyAvailable = errors.New("output not currently available")
	ErrAccessLost            = errors.New("duplication access lost")
	ErrInvalidCall           = errors.New("invalid call")
	ErrNotFound              = errors.New("not found")
	ErrUnsupported           = errors.New("not supported on this platform")
)

// Session errors.
var (
	ErrAlreadyRunning       = errors.New("capture session already running")
	ErrClosed               = errors.New("capture session closed")
	ErrDuplicationExhausted = errors.New("output duplication retries exhausted")
)

// DeviceError reports a failure to acquire the graphics device. It is never retried.
type DeviceError struct {
	Stage string
	Err   error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }

// DuplicationExhaustedError is returned when every duplication attempt failed.
// It matches ErrDuplicationExhausted and unwraps to the last attempt's error.
type DuplicationExhaustedError struct {
	Output   int
	Attempts int
	Last     error
}

func (e *DuplicationExhaustedError) Error() string {
	return fmt.Sprintf("duplicate output %d: gave up after %d attempts: %v", e.Output, e.Attempts, e.Last)
}

func (e *DuplicationExhaustedError) Unwrap() error { return e.Last }

func (e *DuplicationExhaustedError) Is(target error) bool {
	return target == ErrDuplicationExhausted
}

// HandlerError is the loop-fatal error recorded when a FrameHandler fails.
type HandlerError struct {
	Sequence uint64
	Err      error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("frame handler failed on frame %d: %v", e.Sequence, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }
