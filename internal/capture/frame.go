package capture

import "time"

// Frame describes one captured display snapshot. It owns no OS resource: the
// backing surface goes back to the duplication as soon as the handler returns.
type Frame struct {
	// Sequence numbers frames from 1 in acquisition order within a session
	Sequence          uint64      `json:"sequence"`
	Width             uint32      `json:"width"`
	Height            uint32      `json:"height"`
	Format            Format      `json:"format"`
	AccumulatedFrames uint32      `json:"accumulated_frames"`
	PresentTime       int64       `json:"present_time"`
	AcquiredAt        time.Time   `json:"acquired_at"`
	Surface           SurfaceDesc `json:"surface"`
}

// FrameHandler consumes frames on the capture goroutine. Returning an error
// stops the capture loop.
type FrameHandler func(Frame) error

// Stats counts what a session's capture loop has seen.
type Stats struct {
	Delivered uint64 `json:"delivered"`
	Timeouts  uint64 `json:"timeouts"`
	Absorbed  uint64 `json:"absorbed_errors"`
	LastFrame *Frame `json:"last_frame,omitempty"`
}
