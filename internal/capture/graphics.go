package capture

import (
	"fmt"
	"image"
	"time"
)

// Graphics is the entry point into a platform graphics stack. Implementations
// live in the backend subpackages (dxgi, x11, screenshot).
type Graphics interface {
	// Name returns a short backend identifier such as "dxgi"
	Name() string

	// EnumAdapter returns the adapter at index, or ErrNotFound past the end
	EnumAdapter(index int) (Adapter, error)
}

// Adapter is a logical handle to a graphics device (GPU).
type Adapter interface {
	// CreateDevice creates a device supporting at least the given feature level
	CreateDevice(level FeatureLevel) (Device, error)

	// EnumOutput returns the output (monitor) at index, or ErrNotFound past the end
	EnumOutput(index int) (Output, error)

	// Desc describes the adapter
	Desc() (AdapterDesc, error)

	Release()
}

// Device is a graphics device created on an adapter.
type Device interface {
	// Context returns the device's immediate context. The context is owned by
	// the caller and must be released separately.
	Context() DeviceContext

	Release()
}

// DeviceContext is the immediate execution context of a Device.
type DeviceContext interface {
	Release()
}

// Output is one physical display attached to an adapter.
type Output interface {
	// Duplicate claims exclusive duplication of this output for device.
	// A second claim while the first is live fails with ErrNotCurrentlyAvailable.
	Duplicate(device Device) (Duplication, error)

	Desc() (OutputDesc, error)

	Release()
}

// Duplication is an exclusive capability to read consecutive frames of an output.
type Duplication interface {
	// AcquireNextFrame waits up to timeout for the next frame. It returns
	// ErrWaitTimeout when nothing was presented in time. Every successful
	// acquisition must be matched by ReleaseFrame before the next one.
	AcquireNextFrame(timeout time.Duration) (FrameInfo, Resource, error)

	// ReleaseFrame hands the current frame back to the duplication.
	ReleaseFrame() error

	Desc() (DuplicationDesc, error)

	Release()
}

// Resource is the surface backing one acquired frame. It is only valid until
// the frame is released.
type Resource interface {
	SurfaceDesc() (SurfaceDesc, error)
	Release()
}

// FeatureLevel is a Direct3D feature level.
type FeatureLevel uint32

const (
	FeatureLevel10_0 FeatureLevel = 0xa000
	FeatureLevel10_1 FeatureLevel = 0xa100
	FeatureLevel11_0 FeatureLevel = 0xb000
	FeatureLevel11_1 FeatureLevel = 0xb100
	FeatureLevel12_0 FeatureLevel = 0xc000
)

// BaselineFeatureLevel is the level requested when acquiring a capture device.
const BaselineFeatureLevel = FeatureLevel11_0

func (l FeatureLevel) String() string {
	return fmt.Sprintf("%d_%d", uint32(l)>>12, (uint32(l)>>8)&0xf)
}

// Format is a DXGI surface format.
type Format uint32

const (
	FormatUnknown       Format = 0
	FormatR8G8B8A8Unorm Format = 28
	FormatB8G8R8A8Unorm Format = 87
	FormatB8G8R8X8Unorm Format = 88
)

func (f Format) String() string {
	switch f {
	case FormatUnknown:
		return "UNKNOWN"
	case FormatR8G8B8A8Unorm:
		return "R8G8B8A8_UNORM"
	case FormatB8G8R8A8Unorm:
		return "B8G8R8A8_UNORM"
	case FormatB8G8R8X8Unorm:
		return "B8G8R8X8_UNORM"
	default:
		return fmt.Sprintf("FORMAT(%d)", uint32(f))
	}
}

// Rotation is the orientation of an output relative to its native panel.
type Rotation uint32

const (
	RotationUnspecified Rotation = 0
	RotationIdentity    Rotation = 1
	Rotation90          Rotation = 2
	Rotation180         Rotation = 3
	Rotation270         Rotation = 4
)

// AdapterDesc describes an adapter.
type AdapterDesc struct {
	Description          string `json:"description"`
	VendorID             uint32 `json:"vendor_id"`
	DeviceID             uint32 `json:"device_id"`
	DedicatedVideoMemory uint64 `json:"dedicated_video_memory"`
}

// OutputDesc describes an output.
type OutputDesc struct {
	Index             int             `json:"index"`
	Name              string          `json:"name"`
	Bounds            image.Rectangle `json:"bounds"`
	AttachedToDesktop bool            `json:"attached_to_desktop"`
	Rotation          Rotation        `json:"rotation"`
}

// DuplicationDesc describes the display mode a duplication was created for.
type DuplicationDesc struct {
	Width    uint32   `json:"width"`
	Height   uint32   `json:"height"`
	Format   Format   `json:"format"`
	Rotation Rotation `json:"rotation"`
}

// FrameInfo is the metadata returned alongside an acquired frame.
type FrameInfo struct {
	// LastPresentTime is in backend clock ticks; zero when only the pointer changed
	LastPresentTime           int64
	AccumulatedFrames         uint32
	RectsCoalesced            bool
	ProtectedContentMaskedOut bool
	PointerVisible            bool
	PointerX                  int32
	PointerY                  int32
}

// SurfaceDesc mirrors D3D11_TEXTURE2D_DESC.
type SurfaceDesc struct {
	Width          uint32 `json:"width"`
	Height         uint32 `json:"height"`
	MipLevels      uint32 `json:"mip_levels"`
	ArraySize      uint32 `json:"array_size"`
	Format         Format `json:"format"`
	SampleCount    uint32 `json:"sample_count"`
	SampleQuality  uint32 `json:"sample_quality"`
	Usage          uint32 `json:"usage"`
	BindFlags      uint32 `json:"bind_flags"`
	CPUAccessFlags uint32 `json:"cpu_access_flags"`
	MiscFlags      uint32 `json:"misc_flags"`
}
