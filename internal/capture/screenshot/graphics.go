// Package screenshot implements capture.Graphics with periodic full-display
// screenshots. It works wherever github.com/kbinani/screenshot does, at the
// cost of a CPU copy per frame.
package screenshot

import (
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bryanchriswhite/garp/internal/capture"
	"github.com/kbinani/screenshot"
)

// DefaultFPS paces frame acquisition.
const DefaultFPS = 30

// Graphics enumerates the active displays as outputs of a single adapter.
type Graphics struct {
	fps int

	// capture grabs a region of the desktop; replaced in tests
	capture func(image.Rectangle) (*image.RGBA, error)
	// displays returns the bounds of every active display; replaced in tests
	displays func() []image.Rectangle
}

var _ capture.Graphics = (*Graphics)(nil)

// New returns a screenshot backend paced at fps frames per second.
func New(fps int) *Graphics {
	if fps <= 0 {
		fps = DefaultFPS
	}
	return &Graphics{
		fps:      fps,
		capture:  screenshot.CaptureRect,
		displays: activeDisplays,
	}
}

func activeDisplays() []image.Rectangle {
	n := screenshot.NumActiveDisplays()
	bounds := make([]image.Rectangle, n)
	for i := range n {
		bounds[i] = screenshot.GetDisplayBounds(i)
	}
	return bounds
}

// Name implements capture.Graphics.
func (g *Graphics) Name() string { return "screenshot" }

// Close is a no-op; screenshots hold no connection between grabs.
func (g *Graphics) Close() error { return nil }

// EnumAdapter implements capture.Graphics.
func (g *Graphics) EnumAdapter(index int) (capture.Adapter, error) {
	if index != 0 {
		return nil, capture.ErrNotFound
	}
	if len(g.displays()) == 0 {
		return nil, fmt.Errorf("no active displays: %w", capture.ErrNotFound)
	}
	return &adapter{g: g}, nil
}

func (g *Graphics) interval() time.Duration {
	return time.Second / time.Duration(g.fps)
}

type adapter struct {
	g *Graphics
}

func (a *adapter) CreateDevice(capture.FeatureLevel) (capture.Device, error) {
	return &device{g: a.g}, nil
}

func (a *adapter) EnumOutput(index int) (capture.Output, error) {
	displays := a.g.displays()
	if index < 0 || index >= len(displays) {
		return nil, capture.ErrNotFound
	}
	return &output{g: a.g, index: index, bounds: displays[index]}, nil
}

func (a *adapter) Desc() (capture.AdapterDesc, error) {
	return capture.AdapterDesc{Description: "screenshot"}, nil
}

func (a *adapter) Release() {}

type device struct {
	g *Graphics
}

func (d *device) Context() capture.DeviceContext { return nopContext{} }
func (d *device) Release()                       {}

type nopContext struct{}

func (nopContext) Release() {}

type output struct {
	g      *Graphics
	index  int
	bounds image.Rectangle
}

func (o *output) Duplicate(dev capture.Device) (capture.Duplication, error) {
	if _, ok := dev.(*device); !ok {
		return nil, fmt.Errorf("duplicate output: %w: device %T was not created by screenshot", capture.ErrInvalidCall, dev)
	}
	release, err := capture.ClaimOutput(fmt.Sprintf("screenshot:%d", o.index))
	if err != nil {
		return nil, err
	}
	return &duplication{g: o.g, bounds: o.bounds, claim: release}, nil
}

func (o *output) Desc() (capture.OutputDesc, error) {
	return capture.OutputDesc{
		Index:             o.index,
		Name:              fmt.Sprintf("display-%d", o.index),
		Bounds:            o.bounds,
		AttachedToDesktop: true,
		Rotation:          capture.RotationIdentity,
	}, nil
}

func (o *output) Release() {}

type duplication struct {
	g      *Graphics
	bounds image.Rectangle
	claim  func()
	once   sync.Once

	held atomic.Bool
	last time.Time
}

// AcquireNextFrame waits out the frame interval and grabs the display.
func (d *duplication) AcquireNextFrame(timeout time.Duration) (capture.FrameInfo, capture.Resource, error) {
	if d.held.Load() {
		return capture.FrameInfo{}, nil, fmt.Errorf("acquire frame: %w: previous frame not released", capture.ErrInvalidCall)
	}

	wait := time.Until(d.last.Add(d.g.interval()))
	if wait > timeout {
		time.Sleep(timeout)
		return capture.FrameInfo{}, nil, capture.ErrWaitTimeout
	}
	if wait > 0 {
		time.Sleep(wait)
	}

	img, err := d.g.capture(d.bounds)
	if err != nil {
		return capture.FrameInfo{}, nil, fmt.Errorf("capture display: %w", err)
	}

	now := time.Now()
	d.last = now
	d.held.Store(true)
	return capture.FrameInfo{LastPresentTime: now.UnixNano(), AccumulatedFrames: 1}, &resource{img: img}, nil
}

func (d *duplication) ReleaseFrame() error {
	if !d.held.Swap(false) {
		return fmt.Errorf("release frame: %w: no frame held", capture.ErrInvalidCall)
	}
	return nil
}

func (d *duplication) Desc() (capture.DuplicationDesc, error) {
	return capture.DuplicationDesc{
		Width:    uint32(d.bounds.Dx()),
		Height:   uint32(d.bounds.Dy()),
		Format:   capture.FormatR8G8B8A8Unorm,
		Rotation: capture.RotationIdentity,
	}, nil
}

func (d *duplication) Release() { d.once.Do(d.claim) }

type resource struct {
	img *image.RGBA
}

func (r *resource) SurfaceDesc() (capture.SurfaceDesc, error) {
	b := r.img.Bounds()
	return capture.SurfaceDesc{
		Width:       uint32(b.Dx()),
		Height:      uint32(b.Dy()),
		MipLevels:   1,
		ArraySize:   1,
		Format:      capture.FormatR8G8B8A8Unorm,
		SampleCount: 1,
	}, nil
}

func (r *resource) Release() { r.img = nil }
