//go:build !windows

package backend

import (
	"fmt"

	"github.com/bryanchriswhite/garp/internal/capture"
)

func openDXGI(Options) (Graphics, error) {
	return nil, fmt.Errorf("DXGI desktop duplication requires Windows: %w", capture.ErrUnsupported)
}
