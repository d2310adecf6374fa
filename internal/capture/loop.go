package capture

import (
	"errors"
	"fmt"
	"runtime"
	"time"
)

// run is the capture loop. It owns the duplication until it returns: each
// iteration polls for a frame, hands it to h and releases it before the next
// poll, so h never sees two frames at once and sees them in acquisition order.
func (s *Session) run(h FrameHandler, done chan struct{}) {
	// One OS thread per active session.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	var loopErr error
	defer func() {
		s.running.Store(false)

		s.mu.Lock()
		s.err = loopErr
		closed := s.closed
		s.mu.Unlock()

		// Close does not wait for a loop it interrupted mid-handler
		if closed {
			s.release()
		}

		s.mu.Lock()
		close(done)
		s.mu.Unlock()

		if loopErr != nil {
			s.log.Error().Err(loopErr).Msg("Capture loop aborted")
			return
		}
		s.log.Info().Uint64("delivered", s.delivered.Load()).Msg("Capture loop stopped")
	}()

	for s.running.Load() {
		if err := s.poll(h); err != nil {
			loopErr = err
			return
		}
		if s.opts.pollInterval > 0 {
			time.Sleep(s.opts.pollInterval)
		}
	}
}

// poll performs one iteration. Timeouts and acquisition failures are absorbed;
// only a failing handler or a failed frame release end the loop.
func (s *Session) poll(h FrameHandler) error {
	info, res, err := s.duplication.AcquireNextFrame(s.opts.acquireTimeout)
	if err != nil {
		if errors.Is(err, ErrWaitTimeout) {
			s.timeouts.Add(1)
			s.log.Debug().Dur("timeout", s.opts.acquireTimeout).Msg("No new frame")
			return nil
		}
		s.absorbed.Add(1)
		s.log.Warn().Err(err).Msg("Failed to acquire frame")
		return nil
	}

	frame, err := s.describe(info, res)
	if err != nil {
		if rerr := s.duplication.ReleaseFrame(); rerr != nil {
			return fmt.Errorf("release frame: %w", rerr)
		}
		s.absorbed.Add(1)
		s.log.Warn().Err(err).Msg("Dropped undescribable frame")
		return nil
	}

	s.handling.Store(true)
	herr := callHandler(h, frame)
	s.handling.Store(false)
	s.captured.Store(true)

	if rerr := s.duplication.ReleaseFrame(); rerr != nil {
		if herr != nil {
			return &HandlerError{Sequence: frame.Sequence, Err: herr}
		}
		return fmt.Errorf("release frame %d: %w", frame.Sequence, rerr)
	}
	if herr != nil {
		return &HandlerError{Sequence: frame.Sequence, Err: herr}
	}

	s.delivered.Add(1)
	s.lastFrame.Store(&frame)
	return nil
}

// callHandler converts a handler panic into an error so the loop can release
// the frame and record why it stopped.
func callHandler(h FrameHandler, f Frame) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return h(f)
}
