package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bryanchriswhite/garp/internal/logger"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	// DefaultAcquireTimeout bounds each poll of the capture loop
	DefaultAcquireTimeout = 200 * time.Millisecond
	// DefaultProbeTimeout bounds CaptureOnce
	DefaultProbeTimeout = 35 * time.Millisecond
	// DefaultPollInterval is the pause between loop iterations
	DefaultPollInterval = time.Millisecond
)

type options struct {
	retry          RetryPolicy
	acquireTimeout time.Duration
	probeTimeout   time.Duration
	pollInterval   time.Duration
	log            *zerolog.Logger
}

// Option configures a Session.
type Option func(*options)

// WithRetryPolicy sets the output and retry bounds used to duplicate it.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(o *options) { o.retry = p }
}

// WithAcquireTimeout sets the bounded wait of each loop poll.
func WithAcquireTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.acquireTimeout = d
		}
	}
}

// WithProbeTimeout sets the wait used by CaptureOnce.
func WithProbeTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.probeTimeout = d
		}
	}
}

// WithPollInterval sets the pause between loop iterations. Zero disables it.
func WithPollInterval(d time.Duration) Option {
	return func(o *options) {
		if d >= 0 {
			o.pollInterval = d
		}
	}
}

// WithLogger replaces the session logger.
func WithLogger(l *zerolog.Logger) Option {
	return func(o *options) { o.log = l }
}

// Session owns a graphics device, its immediate context and one exclusive
// duplication of an output. The duplication is acquired once in New and held
// until Close.
type Session struct {
	id      string
	backend string
	opts    options
	log     zerolog.Logger

	adapter     Adapter
	device      Device
	context     DeviceContext
	duplication Duplication
	desc        DuplicationDesc

	// running and captured are shared with the capture goroutine
	running  atomic.Bool
	captured atomic.Bool

	// handling is set while the loop goroutine is inside the frame handler
	handling atomic.Bool

	seq       atomic.Uint64
	delivered atomic.Uint64
	timeouts  atomic.Uint64
	absorbed  atomic.Uint64
	lastFrame atomic.Pointer[Frame]

	mu     sync.Mutex
	done   chan struct{}
	err    error
	closed bool

	releaseOnce sync.Once
}

// New acquires the device and duplicates the configured output. Nothing is
// held if either step fails.
func New(ctx context.Context, g Graphics, opts ...Option) (*Session, error) {
	o := options{
		retry:          DefaultRetryPolicy(),
		acquireTimeout: DefaultAcquireTimeout,
		probeTimeout:   DefaultProbeTimeout,
		pollInterval:   DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(&o)
	}

	device, adapter, err := CreateDevice(g)
	if err != nil {
		return nil, err
	}

	dup, err := DuplicateOutput(ctx, device, adapter, o.retry)
	if err != nil {
		device.Release()
		adapter.Release()
		return nil, err
	}

	id := uuid.NewString()
	base := logger.WithComponent("session")
	if o.log != nil {
		base = o.log
	}

	s := &Session{
		id:          id,
		backend:     g.Name(),
		opts:        o,
		log:         base.With().Str("session_id", id).Logger(),
		adapter:     adapter,
		device:      device,
		context:     device.Context(),
		duplication: dup,
		done:        make(chan struct{}),
	}
	// No loop yet; Wait must not block.
	close(s.done)

	if desc, err := dup.Desc(); err == nil {
		s.desc = desc
	} else {
		s.log.Debug().Err(err).Msg("Duplication description unavailable")
	}

	s.log.Info().
		Str("backend", s.backend).
		Int("output", o.retry.OutputIndex).
		Uint32("width", s.desc.Width).
		Uint32("height", s.desc.Height).
		Msg("Capture session created")
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Backend returns the name of the graphics backend.
func (s *Session) Backend() string { return s.backend }

// Output returns the display mode the duplication was created for.
func (s *Session) Output() DuplicationDesc { return s.desc }

// Running reports whether the capture loop has been asked to run.
func (s *Session) Running() bool { return s.running.Load() }

// HasFrame reports whether at least one frame has been handed to a handler.
func (s *Session) HasFrame() bool { return s.captured.Load() }

// OnFrame starts the capture loop on its own goroutine, delivering every frame
// to h. It returns without waiting for frames. Calling it while a loop is still
// running, or still winding down after Stop, returns ErrAlreadyRunning.
func (s *Session) OnFrame(h FrameHandler) error {
	if h == nil {
		return errors.New("capture: nil frame handler")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	select {
	case <-s.done:
	default:
		return ErrAlreadyRunning
	}
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	s.done = make(chan struct{})
	s.err = nil
	go s.run(h, s.done)

	s.log.Info().Msg("Capture started")
	return nil
}

// Stop asks the capture loop to exit after its current iteration. It does not
// wait; use Wait or Done for that.
func (s *Session) Stop() {
	if s.running.Swap(false) {
		s.log.Info().Msg("Capture stop requested")
	}
}

// Done is closed once the duplication is idle: no loop is running and no
// CaptureOnce is in flight. After Close it is closed only once every handle
// has been released.
func (s *Session) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Wait blocks until the capture loop exits and returns the error that stopped
// it, if any.
func (s *Session) Wait() error {
	<-s.Done()
	return s.Err()
}

// Err returns the error that stopped the last capture loop.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Stats returns loop counters.
func (s *Session) Stats() Stats {
	return Stats{
		Delivered: s.delivered.Load(),
		Timeouts:  s.timeouts.Load(),
		Absorbed:  s.absorbed.Load(),
		LastFrame: s.lastFrame.Load(),
	}
}

// CaptureOnce acquires a single frame outside the capture loop and returns its
// description. It is rejected while the loop or another CaptureOnce owns the
// duplication.
func (s *Session) CaptureOnce(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Frame{}, ErrClosed
	}
	select {
	case <-s.done:
	default:
		s.mu.Unlock()
		return Frame{}, ErrAlreadyRunning
	}
	// The fresh channel reserves the duplication until the probe is done
	probing := make(chan struct{})
	s.done = probing
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		close(probing)
		s.mu.Unlock()
	}()

	info, res, err := s.duplication.AcquireNextFrame(s.opts.probeTimeout)
	if err != nil {
		return Frame{}, fmt.Errorf("acquire frame: %w", err)
	}

	frame, err := s.describe(info, res)
	if rerr := s.duplication.ReleaseFrame(); rerr != nil && err == nil {
		err = fmt.Errorf("release frame: %w", rerr)
	}
	if err != nil {
		return Frame{}, err
	}
	return frame, nil
}

// Close stops the loop, waits for it to exit and releases the duplication,
// context, device and adapter. It is safe to call more than once.
//
// Called while a frame handler is running, for instance from the handler
// itself, Close only stops the loop and returns; the loop releases the handles
// as it exits and Done is closed after that.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	done := s.done
	s.mu.Unlock()

	s.Stop()
	if s.handling.Load() {
		return nil
	}
	<-done
	s.release()
	return nil
}

// release hands every OS handle back, once.
func (s *Session) release() {
	s.releaseOnce.Do(s.releaseHandles)
}

func (s *Session) releaseHandles() {
	s.duplication.Release()
	if s.context != nil {
		s.context.Release()
	}
	s.device.Release()
	s.adapter.Release()

	st := s.Stats()
	s.log.Info().
		Uint64("delivered", st.Delivered).
		Uint64("timeouts", st.Timeouts).
		Uint64("absorbed_errors", st.Absorbed).
		Msg("Capture session closed")
}

// describe turns an acquired resource into a Frame and releases the resource.
func (s *Session) describe(info FrameInfo, res Resource) (Frame, error) {
	defer res.Release()

	desc, err := res.SurfaceDesc()
	if err != nil {
		return Frame{}, fmt.Errorf("describe surface: %w", err)
	}

	return Frame{
		Sequence:          s.seq.Add(1),
		Width:             desc.Width,
		Height:            desc.Height,
		Format:            desc.Format,
		AccumulatedFrames: info.AccumulatedFrames,
		PresentTime:       info.LastPresentTime,
		AcquiredAt:        time.Now(),
		Surface:           desc,
	}, nil
}
