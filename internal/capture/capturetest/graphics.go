// Package capturetest provides an in-memory capture.Graphics for tests.
package capturetest

import (
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/bryanchriswhite/garp/internal/capture"
)

// Graphics is a scriptable capture.Graphics. The zero value is usable and
// describes one adapter with one 1920x1080 output that yields a frame on
// every poll.
type Graphics struct {
	Width, Height uint32

	// Outputs is the number of outputs on adapter 0; defaults to 1
	Outputs int

	AdapterErr error
	DeviceErr  error

	// FailDuplicate makes the first N Duplicate calls fail with DuplicateErr
	// (capture.ErrNotCurrentlyAvailable if nil)
	FailDuplicate int
	DuplicateErr  error

	// Acquire overrides AcquireNextFrame. n counts calls from 1. A nil
	// error produces a frame.
	Acquire func(n int, timeout time.Duration) error

	DescribeErr     error
	ReleaseFrameErr error

	mu             sync.Mutex
	live           int
	duplicateCalls int
	duplicated     bool
	acquireCalls   int
	held           bool
	frames         int
	released       int
	overlaps       int
}

var _ capture.Graphics = (*Graphics)(nil)

// Name implements capture.Graphics.
func (g *Graphics) Name() string { return "fake" }

// EnumAdapter implements capture.Graphics.
func (g *Graphics) EnumAdapter(index int) (capture.Adapter, error) {
	if g.AdapterErr != nil {
		return nil, g.AdapterErr
	}
	if index != 0 {
		return nil, capture.ErrNotFound
	}
	g.acquireHandle()
	return &adapter{g: g}, nil
}

// DuplicateCalls returns how many times Duplicate was attempted.
func (g *Graphics) DuplicateCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.duplicateCalls
}

// LiveHandles returns the number of adapters, devices, contexts, outputs,
// duplications and frame resources not yet released.
func (g *Graphics) LiveHandles() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.live
}

// Duplicated reports whether a duplication is currently held.
func (g *Graphics) Duplicated() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.duplicated
}

// AcquireCalls returns how many times AcquireNextFrame was called.
func (g *Graphics) AcquireCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.acquireCalls
}

// FramesReleased returns how many acquired frames were released.
func (g *Graphics) FramesReleased() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.released
}

// Overlaps counts acquisitions attempted while a frame was still held.
func (g *Graphics) Overlaps() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.overlaps
}

func (g *Graphics) acquireHandle() {
	g.mu.Lock()
	g.live++
	g.mu.Unlock()
}

func (g *Graphics) releaseHandle() {
	g.mu.Lock()
	g.live--
	g.mu.Unlock()
}

func (g *Graphics) size() (uint32, uint32) {
	w, h := g.Width, g.Height
	if w == 0 {
		w = 1920
	}
	if h == 0 {
		h = 1080
	}
	return w, h
}

type adapter struct {
	g    *Graphics
	once sync.Once
}

func (a *adapter) CreateDevice(level capture.FeatureLevel) (capture.Device, error) {
	if a.g.DeviceErr != nil {
		return nil, a.g.DeviceErr
	}
	if level > capture.FeatureLevel12_0 {
		return nil, fmt.Errorf("feature level %s: %w", level, capture.ErrUnsupported)
	}
	a.g.acquireHandle()
	return &device{g: a.g}, nil
}

func (a *adapter) EnumOutput(index int) (capture.Output, error) {
	n := a.g.Outputs
	if n == 0 {
		n = 1
	}
	if index < 0 || index >= n {
		return nil, capture.ErrNotFound
	}
	a.g.acquireHandle()
	return &output{g: a.g, index: index}, nil
}

func (a *adapter) Desc() (capture.AdapterDesc, error) {
	return capture.AdapterDesc{Description: "Fake Adapter", VendorID: 0xffff}, nil
}

func (a *adapter) Release() { a.once.Do(a.g.releaseHandle) }

type device struct {
	g    *Graphics
	once sync.Once
}

func (d *device) Context() capture.DeviceContext {
	d.g.acquireHandle()
	return &deviceContext{g: d.g}
}

func (d *device) Release() { d.once.Do(d.g.releaseHandle) }

type deviceContext struct {
	g    *Graphics
	once sync.Once
}

func (c *deviceContext) Release() { c.once.Do(c.g.releaseHandle) }

type output struct {
	g     *Graphics
	index int
	once  sync.Once
}

func (o *output) Duplicate(d capture.Device) (capture.Duplication, error) {
	if _, ok := d.(*device); !ok {
		return nil, errors.New("foreign device")
	}

	g := o.g
	g.mu.Lock()
	defer g.mu.Unlock()

	g.duplicateCalls++
	if g.duplicateCalls <= g.FailDuplicate {
		if g.DuplicateErr != nil {
			return nil, g.DuplicateErr
		}
		return nil, capture.ErrNotCurrentlyAvailable
	}
	if g.duplicated {
		return nil, capture.ErrNotCurrentlyAvailable
	}
	g.duplicated = true
	g.live++
	return &duplication{g: g}, nil
}

func (o *output) Desc() (capture.OutputDesc, error) {
	w, h := o.g.size()
	return capture.OutputDesc{
		Index:             o.index,
		Name:              fmt.Sprintf(`\\.\DISPLAY%d`, o.index+1),
		Bounds:            image.Rect(0, 0, int(w), int(h)),
		AttachedToDesktop: true,
		Rotation:          capture.RotationIdentity,
	}, nil
}

func (o *output) Release() { o.once.Do(o.g.releaseHandle) }

type duplication struct {
	g    *Graphics
	once sync.Once
}

func (d *duplication) AcquireNextFrame(timeout time.Duration) (capture.FrameInfo, capture.Resource, error) {
	g := d.g
	g.mu.Lock()
	g.acquireCalls++
	n := g.acquireCalls
	if g.held {
		g.overlaps++
		g.mu.Unlock()
		return capture.FrameInfo{}, nil, capture.ErrInvalidCall
	}
	acquire := g.Acquire
	g.mu.Unlock()

	if acquire != nil {
		if err := acquire(n, timeout); err != nil {
			return capture.FrameInfo{}, nil, err
		}
	}

	g.mu.Lock()
	g.held = true
	g.frames++
	g.live++
	present := int64(g.frames)
	g.mu.Unlock()

	w, h := g.size()
	info := capture.FrameInfo{LastPresentTime: present, AccumulatedFrames: 1}
	return info, &resource{g: g, width: w, height: h}, nil
}

func (d *duplication) ReleaseFrame() error {
	g := d.g
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.held {
		return capture.ErrInvalidCall
	}
	g.held = false
	g.released++
	return g.ReleaseFrameErr
}

func (d *duplication) Desc() (capture.DuplicationDesc, error) {
	w, h := d.g.size()
	return capture.DuplicationDesc{
		Width:    w,
		Height:   h,
		Format:   capture.FormatB8G8R8A8Unorm,
		Rotation: capture.RotationIdentity,
	}, nil
}

func (d *duplication) Release() {
	d.once.Do(func() {
		d.g.mu.Lock()
		d.g.duplicated = false
		d.g.live--
		d.g.mu.Unlock()
	})
}

type resource struct {
	g             *Graphics
	width, height uint32
	once          sync.Once
}

func (r *resource) SurfaceDesc() (capture.SurfaceDesc, error) {
	if r.g.DescribeErr != nil {
		return capture.SurfaceDesc{}, r.g.DescribeErr
	}
	return capture.SurfaceDesc{
		Width:       r.width,
		Height:      r.height,
		MipLevels:   1,
		ArraySize:   1,
		Format:      capture.FormatB8G8R8A8Unorm,
		SampleCount: 1,
	}, nil
}

func (r *resource) Release() { r.once.Do(r.g.releaseHandle) }
