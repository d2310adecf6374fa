//go:build windows

package dxgi

import (
	"fmt"
	"syscall"
	"unsafe"

	"github.com/bryanchriswhite/garp/internal/capture"
	"github.com/go-ole/go-ole"
	"golang.org/x/sys/windows"
)

var (
	modDXGI  = windows.NewLazySystemDLL("dxgi.dll")
	modD3D11 = windows.NewLazySystemDLL("d3d11.dll")

	procCreateDXGIFactory1 = modDXGI.NewProc("CreateDXGIFactory1")
	procD3D11CreateDevice  = modD3D11.NewProc("D3D11CreateDevice")
)

// Interface IDs.
var (
	iidIDXGIFactory1   = ole.NewGUID("{770aae78-f26f-4dba-a829-253c83d1b387}")
	iidIDXGIOutput1    = ole.NewGUID("{00cddea8-939b-4b83-a340-a685226666cc}")
	iidID3D11Texture2D = ole.NewGUID("{6f15aaf2-d208-4e89-9ab4-489535d34f9c}")
)

// COM vtable indices. IUnknown occupies 0-2 and IDXGIObject 3-6.
const (
	factoryEnumAdapters1 = 12 // IDXGIFactory1

	adapterEnumOutputs = 7  // IDXGIAdapter
	adapterGetDesc1    = 10 // IDXGIAdapter1

	outputGetDesc          = 7  // IDXGIOutput
	output1DuplicateOutput = 22 // IDXGIOutput1

	duplGetDesc          = 7  // IDXGIOutputDuplication
	duplAcquireNextFrame = 8  // IDXGIOutputDuplication
	duplReleaseFrame     = 14 // IDXGIOutputDuplication

	texture2DGetDesc = 10 // ID3D11Texture2D
)

const (
	d3dDriverTypeUnknown         = 0
	d3d11CreateDeviceBGRASupport = 0x20
	d3d11SDKVersion              = 7
)

// DXGI status codes mapped onto capture errors.
const (
	dxgiErrorInvalidCall           = 0x887A0001
	dxgiErrorNotFound              = 0x887A0002
	dxgiErrorUnsupported           = 0x887A0004
	dxgiErrorNotCurrentlyAvailable = 0x887A0022
	dxgiErrorAccessLost            = 0x887A0026
	dxgiErrorWaitTimeout           = 0x887A0027
	eAccessDenied                  = 0x80070005
)

// checkHRESULT converts a failed HRESULT into an error that matches the
// corresponding capture sentinel and carries the OLE error.
func checkHRESULT(op string, hr uintptr) error {
	if int32(hr) >= 0 {
		return nil
	}
	oleErr := ole.NewError(hr)

	var kind error
	switch uint32(hr) {
	case dxgiErrorWaitTimeout:
		kind = capture.ErrWaitTimeout
	case dxgiErrorNotCurrentlyAvailable, eAccessDenied:
		// E_ACCESSDENIED is what DuplicateOutput reports on the secure desktop
		kind = capture.ErrNotCurrentlyAvailable
	case dxgiErrorAccessLost:
		kind = capture.ErrAccessLost
	case dxgiErrorNotFound:
		kind = capture.ErrNotFound
	case dxgiErrorInvalidCall:
		kind = capture.ErrInvalidCall
	case dxgiErrorUnsupported:
		kind = capture.ErrUnsupported
	default:
		return fmt.Errorf("%s: %w", op, oleErr)
	}
	return fmt.Errorf("%s: %w (%w)", op, kind, oleErr)
}

// call invokes the vtable method at idx on obj and checks its HRESULT.
func call(op string, obj *ole.IUnknown, idx int, args ...uintptr) error {
	hr := invoke(obj, idx, args...)
	return checkHRESULT(op, hr)
}

// invoke calls the vtable method at idx on obj without interpreting the result.
func invoke(obj *ole.IUnknown, idx int, args ...uintptr) uintptr {
	vtbl := *(*uintptr)(unsafe.Pointer(obj))
	// vtbl points at COM-owned memory the Go GC never moves; vet's unsafe.Pointer warning is expected here
	fn := *(*uintptr)(unsafe.Pointer(vtbl + uintptr(idx)*unsafe.Sizeof(uintptr(0))))

	all := make([]uintptr, 0, 1+len(args))
	all = append(all, uintptr(unsafe.Pointer(obj)))
	all = append(all, args...)
	ret, _, _ := syscall.SyscallN(fn, all...)
	return ret
}

// queryInterface returns obj cast to iid. The caller owns the new reference.
func queryInterface(op string, obj *ole.IUnknown, iid *ole.GUID) (*ole.IUnknown, error) {
	disp, err := obj.QueryInterface(iid)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &disp.IUnknown, nil
}

func release(obj *ole.IUnknown) {
	if obj != nil {
		obj.Release()
	}
}

// Native struct layouts.

type dxgiAdapterDesc1 struct {
	Description           [128]uint16
	VendorID              uint32
	DeviceID              uint32
	SubSysID              uint32
	Revision              uint32
	DedicatedVideoMemory  uintptr
	DedicatedSystemMemory uintptr
	SharedSystemMemory    uintptr
	AdapterLUID           windows.LUID
	Flags                 uint32
}

type dxgiOutputDesc struct {
	DeviceName         [32]uint16
	DesktopCoordinates windows.Rect
	AttachedToDesktop  int32
	Rotation           uint32
	Monitor            windows.Handle
}

type dxgiRational struct {
	Numerator   uint32
	Denominator uint32
}

type dxgiModeDesc struct {
	Width            uint32
	Height           uint32
	RefreshRate      dxgiRational
	Format           uint32
	ScanlineOrdering uint32
	Scaling          uint32
}

type dxgiOutDuplDesc struct {
	ModeDesc                   dxgiModeDesc
	Rotation                   uint32
	DesktopImageInSystemMemory int32
}

type dxgiOutDuplFrameInfo struct {
	LastPresentTime           int64
	LastMouseUpdateTime       int64
	AccumulatedFrames         uint32
	RectsCoalesced            int32
	ProtectedContentMaskedOut int32
	PointerPositionX          int32
	PointerPositionY          int32
	PointerVisible            int32
	TotalMetadataBufferSize   uint32
	PointerShapeBufferSize    uint32
}

type d3d11Texture2DDesc struct {
	Width          uint32
	Height         uint32
	MipLevels      uint32
	ArraySize      uint32
	Format         uint32
	SampleCount    uint32
	SampleQuality  uint32
	Usage          uint32
	BindFlags      uint32
	CPUAccessFlags uint32
	MiscFlags      uint32
}
