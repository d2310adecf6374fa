package screenshot

import (
	"context"
	"errors"
	"image"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bryanchriswhite/garp/internal/capture"
)

func fakeGraphics(displays ...image.Rectangle) (*Graphics, *atomic.Int32) {
	var grabs atomic.Int32
	g := New(1000)
	g.displays = func() []image.Rectangle { return displays }
	g.capture = func(r image.Rectangle) (*image.RGBA, error) {
		grabs.Add(1)
		return image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy())), nil
	}
	return g, &grabs
}

func TestSession_DeliversDisplaySize(t *testing.T) {
	g, grabs := fakeGraphics(image.Rect(0, 0, 1280, 720), image.Rect(1280, 0, 3200, 1080))

	s, err := capture.New(context.Background(), g,
		capture.WithRetryPolicy(capture.RetryPolicy{OutputIndex: 1, Attempts: 1}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	f, err := s.CaptureOnce(context.Background())
	if err != nil {
		t.Fatalf("CaptureOnce: %v", err)
	}
	if f.Width != 1920 || f.Height != 1080 {
		t.Fatalf("frame is %dx%d, want 1920x1080", f.Width, f.Height)
	}
	if grabs.Load() != 1 {
		t.Fatalf("expected one grab, got %d", grabs.Load())
	}
}

func TestSession_OutputIsExclusive(t *testing.T) {
	g, _ := fakeGraphics(image.Rect(0, 0, 640, 480))
	policy := capture.RetryPolicy{Attempts: 1}

	first, err := capture.New(context.Background(), g, capture.WithRetryPolicy(policy))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = capture.New(context.Background(), g, capture.WithRetryPolicy(policy))
	if !errors.Is(err, capture.ErrNotCurrentlyAvailable) {
		t.Fatalf("expected ErrNotCurrentlyAvailable, got %v", err)
	}

	first.Close()
	second, err := capture.New(context.Background(), g, capture.WithRetryPolicy(policy))
	if err != nil {
		t.Fatalf("New after Close: %v", err)
	}
	second.Close()
}

func TestDuplication_Pacing(t *testing.T) {
	g, _ := fakeGraphics(image.Rect(0, 0, 10, 10))
	g.fps = 10

	dev, _ := (&adapter{g: g}).CreateDevice(capture.BaselineFeatureLevel)
	out, _ := (&adapter{g: g}).EnumOutput(0)
	dup, err := out.Duplicate(dev)
	if err != nil {
		t.Fatalf("Duplicate: %v", err)
	}
	defer dup.Release()

	if _, _, err := dup.AcquireNextFrame(time.Second); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if _, _, err := dup.AcquireNextFrame(time.Second); !errors.Is(err, capture.ErrInvalidCall) {
		t.Fatalf("acquire while held: expected ErrInvalidCall, got %v", err)
	}
	if err := dup.ReleaseFrame(); err != nil {
		t.Fatalf("ReleaseFrame: %v", err)
	}

	// The next frame is 100ms away.
	if _, _, err := dup.AcquireNextFrame(5 * time.Millisecond); !errors.Is(err, capture.ErrWaitTimeout) {
		t.Fatalf("expected ErrWaitTimeout, got %v", err)
	}
}

func TestEnumAdapter_NoDisplays(t *testing.T) {
	g, _ := fakeGraphics()
	if _, err := g.EnumAdapter(0); !errors.Is(err, capture.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
