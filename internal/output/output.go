package output

import (
	"github.com/bryanchriswhite/garp/internal/capture"
)

// Output defines the interface for frame sinks. The capture loop hands frames
// to WriteFrame on its own goroutine, so implementations must not block for
// long; an error stops the loop.
type Output interface {
	// Start initializes the output mechanism
	Start() error

	// Stop cleanly shuts down the output
	Stop() error

	// WriteFrame delivers a frame description
	WriteFrame(frame capture.Frame) error

	// Name returns a human-readable name for this output type
	Name() string

	// IsRunning returns true if the output is currently active
	IsRunning() bool
}

// Handler adapts outputs to a capture.FrameHandler. Frames go to each output
// in order and the first error is returned.
func Handler(outs ...Output) capture.FrameHandler {
	return func(f capture.Frame) error {
		for _, o := range outs {
			if err := o.WriteFrame(f); err != nil {
				return err
			}
		}
		return nil
	}
}
