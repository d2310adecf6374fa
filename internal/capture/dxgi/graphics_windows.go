//go:build windows

package dxgi

import (
	"errors"
	"fmt"
	"image"
	"time"
	"unsafe"

	"github.com/bryanchriswhite/garp/internal/capture"
	"github.com/go-ole/go-ole"
	"golang.org/x/sys/windows"
)

// Graphics wraps an IDXGIFactory1.
type Graphics struct {
	factory *ole.IUnknown
}

var _ capture.Graphics = (*Graphics)(nil)

// New creates a DXGI factory.
func New() (*Graphics, error) {
	if err := procCreateDXGIFactory1.Find(); err != nil {
		return nil, fmt.Errorf("CreateDXGIFactory1: %w (%w)", capture.ErrUnsupported, err)
	}

	var factory *ole.IUnknown
	hr, _, _ := procCreateDXGIFactory1.Call(
		uintptr(unsafe.Pointer(iidIDXGIFactory1)),
		uintptr(unsafe.Pointer(&factory)),
	)
	if err := checkHRESULT("CreateDXGIFactory1", hr); err != nil {
		return nil, err
	}
	return &Graphics{factory: factory}, nil
}

// Name implements capture.Graphics.
func (g *Graphics) Name() string { return "dxgi" }

// EnumAdapter implements capture.Graphics.
func (g *Graphics) EnumAdapter(index int) (capture.Adapter, error) {
	var a *ole.IUnknown
	if err := call("EnumAdapters1", g.factory, factoryEnumAdapters1,
		uintptr(index), uintptr(unsafe.Pointer(&a))); err != nil {
		return nil, err
	}
	return &adapter{obj: a}, nil
}

// Close releases the factory. Adapters obtained from it hold their own references.
func (g *Graphics) Close() error {
	release(g.factory)
	g.factory = nil
	return nil
}

type adapter struct {
	obj *ole.IUnknown
}

func (a *adapter) CreateDevice(level capture.FeatureLevel) (capture.Device, error) {
	if err := procD3D11CreateDevice.Find(); err != nil {
		return nil, fmt.Errorf("D3D11CreateDevice: %w (%w)", capture.ErrUnsupported, err)
	}

	levels := [1]uint32{uint32(level)}
	var (
		dev      *ole.IUnknown
		ctx      *ole.IUnknown
		obtained uint32
	)
	hr, _, _ := procD3D11CreateDevice.Call(
		uintptr(unsafe.Pointer(a.obj)),
		d3dDriverTypeUnknown,
		0,
		d3d11CreateDeviceBGRASupport,
		uintptr(unsafe.Pointer(&levels[0])),
		uintptr(len(levels)),
		d3d11SDKVersion,
		uintptr(unsafe.Pointer(&dev)),
		uintptr(unsafe.Pointer(&obtained)),
		uintptr(unsafe.Pointer(&ctx)),
	)
	if err := checkHRESULT("D3D11CreateDevice", hr); err != nil {
		return nil, err
	}
	return &device{obj: dev, ctx: ctx, level: capture.FeatureLevel(obtained)}, nil
}

func (a *adapter) EnumOutput(index int) (capture.Output, error) {
	var o *ole.IUnknown
	if err := call("EnumOutputs", a.obj, adapterEnumOutputs,
		uintptr(index), uintptr(unsafe.Pointer(&o))); err != nil {
		return nil, err
	}
	return &output{obj: o, index: index}, nil
}

func (a *adapter) Desc() (capture.AdapterDesc, error) {
	var d dxgiAdapterDesc1
	if err := call("GetDesc1", a.obj, adapterGetDesc1, uintptr(unsafe.Pointer(&d))); err != nil {
		return capture.AdapterDesc{}, err
	}
	return capture.AdapterDesc{
		Description:          windows.UTF16ToString(d.Description[:]),
		VendorID:             d.VendorID,
		DeviceID:             d.DeviceID,
		DedicatedVideoMemory: uint64(d.DedicatedVideoMemory),
	}, nil
}

func (a *adapter) Release() { release(a.obj) }

type device struct {
	obj   *ole.IUnknown
	ctx   *ole.IUnknown
	level capture.FeatureLevel
}

// Context hands ownership of the immediate context to the caller.
func (d *device) Context() capture.DeviceContext {
	if d.ctx == nil {
		return nil
	}
	c := &deviceContext{obj: d.ctx}
	d.ctx = nil
	return c
}

func (d *device) Release() {
	release(d.ctx)
	release(d.obj)
}

type deviceContext struct {
	obj *ole.IUnknown
}

func (c *deviceContext) Release() { release(c.obj) }

type output struct {
	obj   *ole.IUnknown
	index int
}

func (o *output) Duplicate(dev capture.Device) (capture.Duplication, error) {
	d, ok := dev.(*device)
	if !ok {
		return nil, fmt.Errorf("duplicate output: %w: device %T was not created by dxgi", capture.ErrInvalidCall, dev)
	}

	out1, err := queryInterface("QueryInterface(IDXGIOutput1)", o.obj, iidIDXGIOutput1)
	if err != nil {
		return nil, err
	}
	defer release(out1)

	var dup *ole.IUnknown
	if err := call("DuplicateOutput", out1, output1DuplicateOutput,
		uintptr(unsafe.Pointer(d.obj)), uintptr(unsafe.Pointer(&dup))); err != nil {
		return nil, err
	}
	return &duplication{obj: dup}, nil
}

func (o *output) Desc() (capture.OutputDesc, error) {
	var d dxgiOutputDesc
	if err := call("GetDesc", o.obj, outputGetDesc, uintptr(unsafe.Pointer(&d))); err != nil {
		return capture.OutputDesc{}, err
	}
	r := d.DesktopCoordinates
	return capture.OutputDesc{
		Index:             o.index,
		Name:              windows.UTF16ToString(d.DeviceName[:]),
		Bounds:            image.Rect(int(r.Left), int(r.Top), int(r.Right), int(r.Bottom)),
		AttachedToDesktop: d.AttachedToDesktop != 0,
		Rotation:          capture.Rotation(d.Rotation),
	}, nil
}

func (o *output) Release() { release(o.obj) }

type duplication struct {
	obj *ole.IUnknown
}

func (d *duplication) AcquireNextFrame(timeout time.Duration) (capture.FrameInfo, capture.Resource, error) {
	var (
		info dxgiOutDuplFrameInfo
		res  *ole.IUnknown
	)
	if err := call("AcquireNextFrame", d.obj, duplAcquireNextFrame,
		uintptr(timeout.Milliseconds()),
		uintptr(unsafe.Pointer(&info)),
		uintptr(unsafe.Pointer(&res))); err != nil {
		return capture.FrameInfo{}, nil, err
	}

	fi := capture.FrameInfo{
		LastPresentTime:           info.LastPresentTime,
		AccumulatedFrames:         info.AccumulatedFrames,
		RectsCoalesced:            info.RectsCoalesced != 0,
		ProtectedContentMaskedOut: info.ProtectedContentMaskedOut != 0,
		PointerVisible:            info.PointerVisible != 0,
		PointerX:                  info.PointerPositionX,
		PointerY:                  info.PointerPositionY,
	}
	return fi, &resource{obj: res}, nil
}

func (d *duplication) ReleaseFrame() error {
	return call("ReleaseFrame", d.obj, duplReleaseFrame)
}

func (d *duplication) Desc() (capture.DuplicationDesc, error) {
	var desc dxgiOutDuplDesc
	// GetDesc returns void
	invoke(d.obj, duplGetDesc, uintptr(unsafe.Pointer(&desc)))
	if desc.ModeDesc.Width == 0 || desc.ModeDesc.Height == 0 {
		return capture.DuplicationDesc{}, errors.New("duplication reported an empty mode")
	}
	return capture.DuplicationDesc{
		Width:    desc.ModeDesc.Width,
		Height:   desc.ModeDesc.Height,
		Format:   capture.Format(desc.ModeDesc.Format),
		Rotation: capture.Rotation(desc.Rotation),
	}, nil
}

func (d *duplication) Release() { release(d.obj) }

// resource is the IDXGIResource handed out by AcquireNextFrame.
type resource struct {
	obj *ole.IUnknown
}

func (r *resource) SurfaceDesc() (capture.SurfaceDesc, error) {
	tex, err := queryInterface("QueryInterface(ID3D11Texture2D)", r.obj, iidID3D11Texture2D)
	if err != nil {
		return capture.SurfaceDesc{}, err
	}
	defer release(tex)

	var d d3d11Texture2DDesc
	invoke(tex, texture2DGetDesc, uintptr(unsafe.Pointer(&d)))
	return capture.SurfaceDesc{
		Width:          d.Width,
		Height:         d.Height,
		MipLevels:      d.MipLevels,
		ArraySize:      d.ArraySize,
		Format:         capture.Format(d.Format),
		SampleCount:    d.SampleCount,
		SampleQuality:  d.SampleQuality,
		Usage:          d.Usage,
		BindFlags:      d.BindFlags,
		CPUAccessFlags: d.CPUAccessFlags,
		MiscFlags:      d.MiscFlags,
	}, nil
}

func (r *resource) Release() { release(r.obj) }
