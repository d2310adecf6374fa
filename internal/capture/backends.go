package capture

import "strings"

// Backend names understood by the backend router and the config file.
const (
	BackendAuto       = "auto"
	BackendDXGI       = "dxgi"
	BackendX11        = "x11"
	BackendScreenshot = "screenshot"
)

// BackendNames lists every concrete backend in auto-selection order.
var BackendNames = []string{BackendDXGI, BackendX11, BackendScreenshot}

// ValidBackend reports whether name selects a backend. Empty means auto.
func ValidBackend(name string) bool {
	switch strings.ToLower(name) {
	case "", BackendAuto, BackendDXGI, BackendX11, BackendScreenshot:
		return true
	}
	return false
}
