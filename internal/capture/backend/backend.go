// Package backend selects and opens a capture.Graphics implementation.
package backend

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bryanchriswhite/garp/internal/capture"
	"github.com/bryanchriswhite/garp/internal/capture/screenshot"
	"github.com/bryanchriswhite/garp/internal/capture/x11"
	"github.com/bryanchriswhite/garp/internal/logger"
)

// Backend names accepted by Open.
const (
	Auto       = capture.BackendAuto
	DXGI       = capture.BackendDXGI
	X11        = capture.BackendX11
	Screenshot = capture.BackendScreenshot
)

// Names lists every backend in auto-selection order.
var Names = capture.BackendNames

// Graphics is an opened backend. Close releases its connection to the platform.
type Graphics interface {
	capture.Graphics
	Close() error
}

// Options tunes the backends that need it.
type Options struct {
	// Display is the X display to connect to; $DISPLAY when empty
	Display string
	// FPS paces the screenshot backend
	FPS int
}

type opener func(Options) (Graphics, error)

var openers = map[string]opener{
	DXGI: openDXGI,
	X11: func(o Options) (Graphics, error) {
		return x11.New(o.Display)
	},
	Screenshot: func(o Options) (Graphics, error) {
		return screenshot.New(o.FPS), nil
	},
}

// Valid reports whether name is a backend Open understands.
func Valid(name string) bool {
	name = strings.ToLower(name)
	if _, ok := openers[name]; ok {
		return true
	}
	return name == Auto || name == ""
}

// Open opens the named backend. With Auto, each backend is tried in Names
// order and the first that opens and exposes an adapter is returned.
func Open(name string, opts Options) (Graphics, error) {
	log := logger.WithComponent("backend")
	name = strings.ToLower(name)

	if name == "" || name == Auto {
		var errs []error
		for _, n := range Names {
			g, err := openChecked(n, opts)
			if err != nil {
				log.Warn().Err(err).Str("backend", n).Msg("Capture backend not available")
				errs = append(errs, fmt.Errorf("%s: %w", n, err))
				continue
			}
			log.Info().Str("backend", n).Msg("Capture backend selected")
			return g, nil
		}
		return nil, fmt.Errorf("no capture backends available: %w", errors.Join(errs...))
	}

	if _, ok := openers[name]; !ok {
		return nil, fmt.Errorf("unknown capture backend %q (want one of %s, %s)",
			name, Auto, strings.Join(Names, ", "))
	}
	g, err := openers[name](opts)
	if err != nil {
		return nil, fmt.Errorf("open %s backend: %w", name, err)
	}
	log.Info().Str("backend", name).Msg("Capture backend opened")
	return g, nil
}

// openChecked opens a backend and confirms it has an adapter, so auto
// selection skips platforms that connect but cannot capture.
func openChecked(name string, opts Options) (Graphics, error) {
	g, err := openers[name](opts)
	if err != nil {
		return nil, err
	}
	a, err := g.EnumAdapter(0)
	if err != nil {
		g.Close()
		return nil, err
	}
	a.Release()
	return g, nil
}
