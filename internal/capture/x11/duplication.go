package x11

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BurntSushi/xgb/damage"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/bryanchriswhite/garp/internal/capture"
)

type adapter struct {
	g *Graphics
}

// CreateDevice accepts any feature level; X has no equivalent.
func (a *adapter) CreateDevice(level capture.FeatureLevel) (capture.Device, error) {
	return &device{g: a.g, level: level}, nil
}

func (a *adapter) EnumOutput(index int) (capture.Output, error) {
	outs, err := a.g.outputs()
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(outs) {
		return nil, capture.ErrNotFound
	}
	return &output{g: a.g, desc: outs[index]}, nil
}

func (a *adapter) Desc() (capture.AdapterDesc, error) {
	setup := xproto.Setup(a.g.conn)
	return capture.AdapterDesc{
		Description: fmt.Sprintf("%s (X11 %s)", setup.Vendor, a.g.display),
		VendorID:    setup.ReleaseNumber,
	}, nil
}

func (a *adapter) Release() {}

type device struct {
	g     *Graphics
	level capture.FeatureLevel
}

func (d *device) Context() capture.DeviceContext { return nopContext{} }
func (d *device) Release()                       {}

type nopContext struct{}

func (nopContext) Release() {}

type output struct {
	g    *Graphics
	desc capture.OutputDesc
}

func (o *output) key() string {
	return fmt.Sprintf("x11:%s:%s", o.g.display, o.desc.Name)
}

func (o *output) Duplicate(dev capture.Device) (capture.Duplication, error) {
	if _, ok := dev.(*device); !ok {
		return nil, fmt.Errorf("duplicate output: %w: device %T was not created by x11", capture.ErrInvalidCall, dev)
	}

	release, err := capture.ClaimOutput(o.key())
	if err != nil {
		return nil, err
	}

	d := &duplication{g: o.g, desc: o.desc, claim: release}
	if o.g.hasDamage {
		id, err := damage.NewDamageId(o.g.conn)
		if err != nil {
			release()
			return nil, fmt.Errorf("failed to allocate damage id: %w", err)
		}
		d.notify = o.g.listen(id)
		err = damage.CreateChecked(o.g.conn, id, xproto.Drawable(o.g.screen.Root), damage.ReportLevelNonEmpty).Check()
		if err != nil {
			o.g.unlisten(id)
			release()
			return nil, fmt.Errorf("failed to create damage: %w", err)
		}
		d.damage = id
	}
	return d, nil
}

func (o *output) Desc() (capture.OutputDesc, error) { return o.desc, nil }
func (o *output) Release()                          {}

type duplication struct {
	g     *Graphics
	desc  capture.OutputDesc
	claim func()

	damage damage.Damage
	notify chan struct{}

	held atomic.Bool
	last time.Time
	once sync.Once
}

// AcquireNextFrame waits for the root window to be damaged, or for the pacing
// interval when DAMAGE is unavailable.
func (d *duplication) AcquireNextFrame(timeout time.Duration) (capture.FrameInfo, capture.Resource, error) {
	if d.held.Load() {
		return capture.FrameInfo{}, nil, fmt.Errorf("acquire frame: %w: previous frame not released", capture.ErrInvalidCall)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	if d.notify != nil {
		select {
		case <-d.notify:
			damage.Subtract(d.g.conn, d.damage, 0, 0)
		case <-timer.C:
			return capture.FrameInfo{}, nil, capture.ErrWaitTimeout
		}
	} else {
		wait := time.Until(d.last.Add(PollInterval))
		if wait > timeout {
			time.Sleep(timeout)
			return capture.FrameInfo{}, nil, capture.ErrWaitTimeout
		}
		if wait > 0 {
			time.Sleep(wait)
		}
	}

	now := time.Now()
	d.last = now
	d.held.Store(true)

	info := capture.FrameInfo{
		LastPresentTime:   now.UnixNano(),
		AccumulatedFrames: 1,
	}
	return info, &resource{d: d}, nil
}

func (d *duplication) ReleaseFrame() error {
	if !d.held.Swap(false) {
		return fmt.Errorf("release frame: %w: no frame held", capture.ErrInvalidCall)
	}
	return nil
}

func (d *duplication) Desc() (capture.DuplicationDesc, error) {
	return capture.DuplicationDesc{
		Width:    uint32(d.desc.Bounds.Dx()),
		Height:   uint32(d.desc.Bounds.Dy()),
		Format:   d.g.format(),
		Rotation: d.desc.Rotation,
	}, nil
}

func (d *duplication) Release() {
	d.once.Do(func() {
		if d.notify != nil {
			d.g.unlisten(d.damage)
			damage.Destroy(d.g.conn, d.damage)
		}
		d.claim()
	})
}

// resource describes the output's region of the root window.
type resource struct {
	d *duplication
}

func (r *resource) SurfaceDesc() (capture.SurfaceDesc, error) {
	geom, err := xproto.GetGeometry(r.d.g.conn, xproto.Drawable(r.d.g.screen.Root)).Reply()
	if err != nil {
		return capture.SurfaceDesc{}, fmt.Errorf("failed to get root geometry: %w", err)
	}

	b := r.d.desc.Bounds
	// Clip to the root in case the layout changed since duplication
	w := min(b.Dx(), int(geom.Width)-b.Min.X)
	h := min(b.Dy(), int(geom.Height)-b.Min.Y)
	if w <= 0 || h <= 0 {
		return capture.SurfaceDesc{}, fmt.Errorf("output %s: %w", r.d.desc.Name, capture.ErrAccessLost)
	}

	return capture.SurfaceDesc{
		Width:       uint32(w),
		Height:      uint32(h),
		MipLevels:   1,
		ArraySize:   1,
		Format:      formatForDepth(geom.Depth),
		SampleCount: 1,
	}, nil
}

func (r *resource) Release() {}
