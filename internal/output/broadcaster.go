package output

import (
	"errors"
	"sync"
	"time"

	"github.com/bryanchriswhite/garp/internal/capture"
	"github.com/bryanchriswhite/garp/internal/logger"
)

// ErrNotRunning is returned by WriteFrame before Start or after Stop.
var ErrNotRunning = errors.New("output not running")

// SubscriberBuffer is the number of frames queued per subscriber before
// frames are skipped for it.
const SubscriberBuffer = 2

// Broadcaster fans frames out to any number of subscribers. A slow subscriber
// misses frames rather than stalling the capture loop.
type Broadcaster struct {
	running bool
	mu      sync.RWMutex

	lastMu    sync.RWMutex
	lastFrame *capture.Frame
	lastAt    time.Time

	clientsMu sync.RWMutex
	clients   map[chan capture.Frame]struct{}

	frameCount uint64
	dropped    uint64
	startTime  time.Time
}

// BroadcastStats summarizes a Broadcaster.
type BroadcastStats struct {
	Running    bool           `json:"running"`
	Frames     uint64         `json:"frames"`
	Dropped    uint64         `json:"dropped"`
	Clients    int            `json:"clients"`
	FPS        float64        `json:"fps"`
	LastFrame  *capture.Frame `json:"last_frame,omitempty"`
	LastUpdate time.Time      `json:"last_update,omitzero"`
}

// NewBroadcaster creates a stopped broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		clients: make(map[chan capture.Frame]struct{}),
	}
}

// Start begins accepting frames.
func (b *Broadcaster) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.running {
		return errors.New("broadcaster already running")
	}

	b.running = true
	b.startTime = time.Now()
	b.frameCount = 0
	b.dropped = 0

	logger.WithComponent("output").Info().Msg("Frame broadcaster started")
	return nil
}

// Stop closes every subscriber channel.
func (b *Broadcaster) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.running {
		return nil
	}
	b.running = false

	b.clientsMu.Lock()
	for ch := range b.clients {
		close(ch)
	}
	b.clients = make(map[chan capture.Frame]struct{})
	b.clientsMu.Unlock()

	logger.WithComponent("output").Info().
		Uint64("frames", b.frameCount).
		Uint64("dropped", b.dropped).
		Msg("Frame broadcaster stopped")
	return nil
}

// WriteFrame sends frame to every subscriber without blocking.
func (b *Broadcaster) WriteFrame(frame capture.Frame) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.running {
		return ErrNotRunning
	}
	b.frameCount++

	b.lastMu.Lock()
	b.lastFrame = &frame
	b.lastAt = time.Now()
	b.lastMu.Unlock()

	b.clientsMu.RLock()
	for ch := range b.clients {
		select {
		case ch <- frame:
		default:
			// Client is slow, skip this frame
			b.dropped++
		}
	}
	b.clientsMu.RUnlock()

	return nil
}

// Subscribe registers a new subscriber. The channel is closed by cancel or
// Stop, whichever comes first. Subscribing to a stopped broadcaster returns
// ErrNotRunning.
func (b *Broadcaster) Subscribe() (<-chan capture.Frame, func(), error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.running {
		return nil, nil, ErrNotRunning
	}

	ch := make(chan capture.Frame, SubscriberBuffer)
	b.clientsMu.Lock()
	b.clients[ch] = struct{}{}
	count := len(b.clients)
	b.clientsMu.Unlock()

	log := logger.WithComponent("output")
	log.Info().Int("clients", count).Msg("Frame subscriber connected")

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.clientsMu.Lock()
			if _, ok := b.clients[ch]; ok {
				delete(b.clients, ch)
				close(ch)
			}
			remaining := len(b.clients)
			b.clientsMu.Unlock()
			log.Info().Int("clients", remaining).Msg("Frame subscriber disconnected")
		})
	}
	return ch, cancel, nil
}

// Name returns the output type name
func (b *Broadcaster) Name() string {
	return "frame broadcaster"
}

// IsRunning returns true if the broadcaster accepts frames
func (b *Broadcaster) IsRunning() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.running
}

// Stats returns frame and subscriber counts.
func (b *Broadcaster) Stats() BroadcastStats {
	b.mu.RLock()
	st := BroadcastStats{
		Running: b.running,
		Frames:  b.frameCount,
		Dropped: b.dropped,
	}
	if b.running && !b.startTime.IsZero() {
		if elapsed := time.Since(b.startTime).Seconds(); elapsed > 0 {
			st.FPS = float64(b.frameCount) / elapsed
		}
	}
	b.mu.RUnlock()

	b.lastMu.RLock()
	st.LastFrame = b.lastFrame
	st.LastUpdate = b.lastAt
	b.lastMu.RUnlock()

	b.clientsMu.RLock()
	st.Clients = len(b.clients)
	b.clientsMu.RUnlock()

	return st
}
