// Package x11 implements capture.Graphics for X11 and XWayland displays.
//
// An X connection is exposed as a single adapter whose outputs are the active
// RandR CRTCs (or the whole root window when RandR is missing). Frames are
// paced by DAMAGE notifications on the root window; without the DAMAGE
// extension a new frame is reported every PollInterval.
package x11

import (
	"fmt"
	"image"
	"os"
	"sync"
	"time"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/damage"
	"github.com/BurntSushi/xgb/randr"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/bryanchriswhite/garp/internal/capture"
	"github.com/bryanchriswhite/garp/internal/logger"
)

// PollInterval paces frames when the DAMAGE extension is unavailable.
var PollInterval = 16 * time.Millisecond

// Graphics is an X server connection.
type Graphics struct {
	conn    *xgb.Conn
	screen  *xproto.ScreenInfo
	display string

	hasRandr  bool
	hasDamage bool

	mu        sync.Mutex
	listeners map[damage.Damage]chan struct{}
}

var _ capture.Graphics = (*Graphics)(nil)

// New connects to display, or $DISPLAY when display is empty.
func New(display string) (*Graphics, error) {
	log := logger.WithComponent("x11")

	if display == "" {
		display = os.Getenv("DISPLAY")
	}
	conn, err := xgb.NewConnDisplay(display)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to X server: %w (%w)", capture.ErrUnsupported, err)
	}

	setup := xproto.Setup(conn)
	g := &Graphics{
		conn:      conn,
		screen:    setup.DefaultScreen(conn),
		display:   display,
		listeners: make(map[damage.Damage]chan struct{}),
	}

	if err := randr.Init(conn); err != nil {
		log.Warn().Err(err).Msg("RandR extension not available - capturing the whole root window")
	} else {
		g.hasRandr = true
	}

	if err := damage.Init(conn); err != nil {
		log.Warn().Err(err).Dur("interval", PollInterval).Msg("DAMAGE extension not available - pacing frames on a timer")
	} else if _, err := damage.QueryVersion(conn, 1, 1).Reply(); err != nil {
		log.Warn().Err(err).Msg("DAMAGE version negotiation failed - pacing frames on a timer")
	} else {
		g.hasDamage = true
		go g.watchEvents()
	}

	log.Info().
		Str("display", display).
		Bool("randr", g.hasRandr).
		Bool("damage", g.hasDamage).
		Msg("Connected to X server")
	return g, nil
}

// Name implements capture.Graphics.
func (g *Graphics) Name() string { return "x11" }

// EnumAdapter implements capture.Graphics. The connection is the only adapter.
func (g *Graphics) EnumAdapter(index int) (capture.Adapter, error) {
	if index != 0 {
		return nil, capture.ErrNotFound
	}
	return &adapter{g: g}, nil
}

// Close closes the X connection.
func (g *Graphics) Close() error {
	g.conn.Close()
	return nil
}

// watchEvents forwards DAMAGE notifications to the duplication that owns them.
// It exits when the connection is closed.
func (g *Graphics) watchEvents() {
	log := logger.WithComponent("x11")

	for {
		ev, xerr := g.conn.WaitForEvent()
		if ev == nil && xerr == nil {
			log.Debug().Msg("X event stream closed")
			return
		}
		if xerr != nil {
			log.Debug().Str("error", xerr.Error()).Msg("X error event")
			continue
		}

		notify, ok := ev.(damage.NotifyEvent)
		if !ok {
			continue
		}
		g.mu.Lock()
		ch := g.listeners[notify.Damage]
		g.mu.Unlock()
		if ch == nil {
			continue
		}
		select {
		case ch <- struct{}{}:
		default:
			// A notification is already pending
		}
	}
}

func (g *Graphics) listen(d damage.Damage) chan struct{} {
	ch := make(chan struct{}, 1)
	g.mu.Lock()
	g.listeners[d] = ch
	g.mu.Unlock()
	return ch
}

func (g *Graphics) unlisten(d damage.Damage) {
	g.mu.Lock()
	delete(g.listeners, d)
	g.mu.Unlock()
}

// outputs lists the active CRTCs, or the root window as a single output.
func (g *Graphics) outputs() ([]capture.OutputDesc, error) {
	root := capture.OutputDesc{
		Name:              "root",
		Bounds:            image.Rect(0, 0, int(g.screen.WidthInPixels), int(g.screen.HeightInPixels)),
		AttachedToDesktop: true,
		Rotation:          capture.RotationIdentity,
	}
	if !g.hasRandr {
		return []capture.OutputDesc{root}, nil
	}

	res, err := randr.GetScreenResourcesCurrent(g.conn, g.screen.Root).Reply()
	if err != nil {
		return nil, fmt.Errorf("failed to get screen resources: %w", err)
	}

	var outs []capture.OutputDesc
	for _, crtc := range res.Crtcs {
		info, err := randr.GetCrtcInfo(g.conn, crtc, res.ConfigTimestamp).Reply()
		if err != nil || info.Width == 0 || info.Height == 0 {
			continue
		}

		name := fmt.Sprintf("crtc-%d", crtc)
		if len(info.Outputs) > 0 {
			if oi, err := randr.GetOutputInfo(g.conn, info.Outputs[0], res.ConfigTimestamp).Reply(); err == nil {
				name = string(oi.Name)
			}
		}

		outs = append(outs, capture.OutputDesc{
			Index:             len(outs),
			Name:              name,
			Bounds:            image.Rect(int(info.X), int(info.Y), int(info.X)+int(info.Width), int(info.Y)+int(info.Height)),
			AttachedToDesktop: true,
			Rotation:          rotation(info.Rotation),
		})
	}
	if len(outs) == 0 {
		return []capture.OutputDesc{root}, nil
	}
	return outs, nil
}

func (g *Graphics) format() capture.Format {
	return formatForDepth(g.screen.RootDepth)
}

func formatForDepth(depth byte) capture.Format {
	switch depth {
	case 32:
		return capture.FormatB8G8R8A8Unorm
	case 24:
		return capture.FormatB8G8R8X8Unorm
	default:
		return capture.FormatUnknown
	}
}

func rotation(r uint16) capture.Rotation {
	switch {
	case r&randr.RotationRotate90 != 0:
		return capture.Rotation90
	case r&randr.RotationRotate180 != 0:
		return capture.Rotation180
	case r&randr.RotationRotate270 != 0:
		return capture.Rotation270
	default:
		return capture.RotationIdentity
	}
}
