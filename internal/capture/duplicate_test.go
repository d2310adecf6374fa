package capture_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bryanchriswhite/garp/internal/capture"
	"github.com/bryanchriswhite/garp/internal/capture/capturetest"
)

// recordSleeps replaces the backoff sleeper with one that only records.
func recordSleeps(t *testing.T) *[]time.Duration {
	t.Helper()
	var mu sync.Mutex
	var slept []time.Duration
	restore := capture.SetSleep(func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		defer mu.Unlock()
		slept = append(slept, d)
		return ctx.Err()
	})
	t.Cleanup(restore)
	return &slept
}

func openDevice(t *testing.T, g *capturetest.Graphics) (capture.Device, capture.Adapter) {
	t.Helper()
	device, adapter, err := capture.CreateDevice(g)
	if err != nil {
		t.Fatalf("CreateDevice: %v", err)
	}
	t.Cleanup(func() {
		device.Release()
		adapter.Release()
	})
	return device, adapter
}

func TestDuplicateOutput_FirstAttempt(t *testing.T) {
	slept := recordSleeps(t)
	g := &capturetest.Graphics{}
	device, adapter := openDevice(t, g)

	dup, err := capture.DuplicateOutput(context.Background(), device, adapter, capture.DefaultRetryPolicy())
	if err != nil {
		t.Fatalf("DuplicateOutput: %v", err)
	}
	defer dup.Release()

	if g.DuplicateCalls() != 1 {
		t.Fatalf("expected 1 attempt, got %d", g.DuplicateCalls())
	}
	if len(*slept) != 0 {
		t.Fatalf("expected no backoff, got %v", *slept)
	}
}

func TestDuplicateOutput_SucceedsOnLastAttempt(t *testing.T) {
	slept := recordSleeps(t)
	g := &capturetest.Graphics{FailDuplicate: 9}
	device, adapter := openDevice(t, g)

	dup, err := capture.DuplicateOutput(context.Background(), device, adapter, capture.DefaultRetryPolicy())
	if err != nil {
		t.Fatalf("expected success on attempt 10, got %v", err)
	}
	defer dup.Release()

	if g.DuplicateCalls() != 10 {
		t.Fatalf("expected 10 attempts, got %d", g.DuplicateCalls())
	}
	if len(*slept) != 9 {
		t.Fatalf("expected 9 backoffs, got %d", len(*slept))
	}
	for i, d := range *slept {
		if d != 100*time.Millisecond {
			t.Fatalf("backoff %d = %v, want 100ms", i, d)
		}
	}
}

func TestDuplicateOutput_Exhausted(t *testing.T) {
	slept := recordSleeps(t)
	osErr := errors.New("E_ACCESSDENIED")
	g := &capturetest.Graphics{FailDuplicate: 10, DuplicateErr: osErr}
	device, adapter := openDevice(t, g)
	handlesBefore := g.LiveHandles()

	_, err := capture.DuplicateOutput(context.Background(), device, adapter, capture.DefaultRetryPolicy())
	if err == nil {
		t.Fatal("expected error after 10 failed attempts")
	}
	if !errors.Is(err, capture.ErrDuplicationExhausted) {
		t.Fatalf("expected ErrDuplicationExhausted, got %v", err)
	}
	if !errors.Is(err, osErr) {
		t.Fatalf("expected last OS error to be wrapped, got %v", err)
	}
	var exhausted *capture.DuplicationExhaustedError
	if !errors.As(err, &exhausted) || exhausted.Attempts != 10 {
		t.Fatalf("expected DuplicationExhaustedError with 10 attempts, got %#v", err)
	}

	if g.DuplicateCalls() != 10 {
		t.Fatalf("expected 10 attempts, got %d", g.DuplicateCalls())
	}
	// No sleep after the final attempt.
	if len(*slept) != 9 {
		t.Fatalf("expected 9 backoffs, got %d", len(*slept))
	}
	if g.Duplicated() {
		t.Fatal("duplication left held after exhaustion")
	}
	if g.LiveHandles() != handlesBefore {
		t.Fatalf("output handle leaked: %d live, want %d", g.LiveHandles(), handlesBefore)
	}
}

func TestDuplicateOutput_SingleFailureIsNotExhaustion(t *testing.T) {
	recordSleeps(t)
	g := &capturetest.Graphics{FailDuplicate: 1}
	device, adapter := openDevice(t, g)

	policy := capture.DefaultRetryPolicy()
	policy.Attempts = 1
	_, err := capture.DuplicateOutput(context.Background(), device, adapter, policy)
	if !errors.Is(err, capture.ErrNotCurrentlyAvailable) {
		t.Fatalf("expected wrapped ErrNotCurrentlyAvailable, got %v", err)
	}
}

func TestDuplicateOutput_ContextCancelledDuringBackoff(t *testing.T) {
	g := &capturetest.Graphics{FailDuplicate: 10}
	device, adapter := openDevice(t, g)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := capture.DuplicateOutput(ctx, device, adapter, capture.DefaultRetryPolicy())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if g.DuplicateCalls() != 1 {
		t.Fatalf("expected to stop after the first attempt, got %d", g.DuplicateCalls())
	}
}

func TestDuplicateOutput_UnknownOutput(t *testing.T) {
	g := &capturetest.Graphics{}
	device, adapter := openDevice(t, g)

	policy := capture.DefaultRetryPolicy()
	policy.OutputIndex = 3
	_, err := capture.DuplicateOutput(context.Background(), device, adapter, policy)
	if !errors.Is(err, capture.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if g.DuplicateCalls() != 0 {
		t.Fatalf("expected no duplication attempts, got %d", g.DuplicateCalls())
	}
}

func TestCreateDevice_Failures(t *testing.T) {
	adapterErr := errors.New("no adapter")
	g := &capturetest.Graphics{AdapterErr: adapterErr}
	if _, _, err := capture.CreateDevice(g); !errors.Is(err, adapterErr) {
		t.Fatalf("expected adapter error, got %v", err)
	}

	deviceErr := errors.New("no device")
	g = &capturetest.Graphics{DeviceErr: deviceErr}
	_, _, err := capture.CreateDevice(g)
	var de *capture.DeviceError
	if !errors.As(err, &de) || !errors.Is(err, deviceErr) {
		t.Fatalf("expected DeviceError wrapping device error, got %v", err)
	}
	if g.LiveHandles() != 0 {
		t.Fatalf("adapter leaked after device failure: %d live", g.LiveHandles())
	}
}
