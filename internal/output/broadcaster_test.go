package output

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/bryanchriswhite/garp/internal/capture"
)

func frame(seq uint64) capture.Frame {
	return capture.Frame{Sequence: seq, Width: 1920, Height: 1080, Format: capture.FormatB8G8R8A8Unorm}
}

func TestBroadcaster_NotRunning(t *testing.T) {
	b := NewBroadcaster()
	if err := b.WriteFrame(frame(1)); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning, got %v", err)
	}
	if _, _, err := b.Subscribe(); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning from Subscribe, got %v", err)
	}
}

func TestBroadcaster_FansOut(t *testing.T) {
	b := NewBroadcaster()
	if err := b.Start(); err != nil {
		t.Fatal(err)
	}
	defer b.Stop()

	a, cancelA, _ := b.Subscribe()
	c, cancelC, _ := b.Subscribe()
	defer cancelA()
	defer cancelC()

	if err := b.WriteFrame(frame(1)); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	if f := <-a; f.Sequence != 1 {
		t.Fatalf("subscriber a got %d", f.Sequence)
	}
	if f := <-c; f.Sequence != 1 {
		t.Fatalf("subscriber c got %d", f.Sequence)
	}

	st := b.Stats()
	if st.Frames != 1 || st.Clients != 2 || st.LastFrame == nil || st.LastFrame.Sequence != 1 {
		t.Fatalf("unexpected stats: %+v", st)
	}
}

func TestBroadcaster_SlowSubscriberSkips(t *testing.T) {
	b := NewBroadcaster()
	b.Start()
	defer b.Stop()

	ch, cancel, _ := b.Subscribe()
	defer cancel()

	for i := uint64(1); i <= SubscriberBuffer+3; i++ {
		if err := b.WriteFrame(frame(i)); err != nil {
			t.Fatalf("WriteFrame %d: %v", i, err)
		}
	}

	if got := b.Stats().Dropped; got != 3 {
		t.Fatalf("dropped = %d, want 3", got)
	}
	// The oldest frames are the ones kept
	if f := <-ch; f.Sequence != 1 {
		t.Fatalf("first queued frame = %d, want 1", f.Sequence)
	}
}

func TestBroadcaster_StopClosesSubscribers(t *testing.T) {
	b := NewBroadcaster()
	b.Start()
	ch, cancel, _ := b.Subscribe()

	b.Stop()
	if _, ok := <-ch; ok {
		t.Fatal("subscriber channel still open after Stop")
	}
	// Cancelling after Stop must not double-close
	cancel()

	if err := b.WriteFrame(frame(1)); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning after Stop, got %v", err)
	}
}

func TestBroadcaster_Restart(t *testing.T) {
	b := NewBroadcaster()
	b.Start()
	if err := b.Start(); err == nil {
		t.Fatal("expected error starting twice")
	}
	b.Stop()
	if err := b.Start(); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if b.Stats().Frames != 0 {
		t.Fatal("frame count not reset on restart")
	}
	b.Stop()
}

func TestHandler_StopsOnFirstError(t *testing.T) {
	b := NewBroadcaster()
	var buf bytes.Buffer
	w, _ := NewWriterOutput(&buf, FormatText)
	w.Start()

	h := Handler(b, w)
	if err := h(frame(1)); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("expected broadcaster error, got %v", err)
	}
	if buf.Len() != 0 {
		t.Fatal("later output written after an earlier one failed")
	}
}

func TestWriterOutput(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriterOutput(&buf, FormatJSON)
	if err != nil {
		t.Fatal(err)
	}
	w.Start()

	if err := w.WriteFrame(frame(7)); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	var got capture.Frame
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("invalid JSON line %q: %v", buf.String(), err)
	}
	if got.Sequence != 7 || got.Width != 1920 {
		t.Fatalf("decoded %+v", got)
	}

	buf.Reset()
	text, _ := NewWriterOutput(&buf, FormatText)
	text.Start()
	text.WriteFrame(frame(8))
	if !strings.HasPrefix(buf.String(), "#8 1920x1080 B8G8R8A8_UNORM") {
		t.Fatalf("unexpected text line %q", buf.String())
	}

	if _, err := NewWriterOutput(&buf, "xml"); err == nil {
		t.Fatal("expected unsupported format error")
	}
}
