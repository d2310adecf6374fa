//go:build windows

package backend

import "github.com/bryanchriswhite/garp/internal/capture/dxgi"

func openDXGI(Options) (Graphics, error) {
	return dxgi.New()
}
