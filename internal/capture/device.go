package capture

import (
	"github.com/bryanchriswhite/garp/internal/logger"
)

// CreateDevice opens the first adapter and creates a device on it at the
// baseline feature level. Failures are not retried: a missing or unusable
// adapter does not recover within a process run.
func CreateDevice(g Graphics) (Device, Adapter, error) {
	log := logger.WithComponent("capture")

	adapter, err := g.EnumAdapter(0)
	if err != nil {
		return nil, nil, &DeviceError{Stage: "enumerate adapter 0", Err: err}
	}

	device, err := adapter.CreateDevice(BaselineFeatureLevel)
	if err != nil {
		adapter.Release()
		return nil, nil, &DeviceError{Stage: "create device", Err: err}
	}

	ev := log.Info().
		Str("backend", g.Name()).
		Stringer("feature_level", BaselineFeatureLevel)
	if desc, err := adapter.Desc(); err == nil {
		ev = ev.Str("adapter", desc.Description)
	}
	ev.Msg("Graphics device created")

	return device, adapter, nil
}
