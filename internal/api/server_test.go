package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bryanchriswhite/garp/internal/capture"
	"github.com/bryanchriswhite/garp/internal/capture/capturetest"
	"github.com/bryanchriswhite/garp/internal/config"
	"github.com/bryanchriswhite/garp/internal/output"
	"github.com/gorilla/websocket"
)

type staticConfig struct{ cfg config.Config }

func (c staticConfig) Get() *config.Config { return &c.cfg }

func newTestServer(t *testing.T, g *capturetest.Graphics) (*Server, *capture.Session, *output.Broadcaster) {
	t.Helper()
	sess, err := capture.New(context.Background(), g,
		capture.WithAcquireTimeout(10*time.Millisecond),
		capture.WithPollInterval(time.Millisecond))
	if err != nil {
		t.Fatalf("capture.New: %v", err)
	}
	b := output.NewBroadcaster()
	t.Cleanup(func() {
		sess.Close()
		b.Stop()
	})
	return NewServer(sess, b, staticConfig{cfg: config.Config{Host: "localhost", Port: "8080"}}), sess, b
}

func do(t *testing.T, s *Server, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestHealth(t *testing.T) {
	s, _, _ := newTestServer(t, &capturetest.Graphics{})
	rec := do(t, s, "GET", "/api/health")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "healthy") {
		t.Fatalf("health: %d %s", rec.Code, rec.Body)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatal("missing CORS header")
	}
}

func TestSessionLifecycle(t *testing.T) {
	s, sess, _ := newTestServer(t, &capturetest.Graphics{Width: 800, Height: 600})

	rec := do(t, s, "GET", "/api/session")
	var st SessionStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode: %v (%s)", err, rec.Body)
	}
	if st.ID != sess.ID() || st.Running || st.HasFrame || st.Backend != "fake" {
		t.Fatalf("unexpected initial status: %+v", st)
	}
	if st.Output.Width != 800 || st.Output.Height != 600 {
		t.Fatalf("output = %+v", st.Output)
	}

	if rec := do(t, s, "POST", "/api/session/start"); rec.Code != http.StatusOK {
		t.Fatalf("start: %d %s", rec.Code, rec.Body)
	}
	if rec := do(t, s, "POST", "/api/session/start"); rec.Code != http.StatusConflict {
		t.Fatalf("second start: expected 409, got %d", rec.Code)
	}
	if rec := do(t, s, "POST", "/api/session/probe"); rec.Code != http.StatusConflict {
		t.Fatalf("probe while running: expected 409, got %d", rec.Code)
	}

	deadline := time.Now().Add(2 * time.Second)
	for !sess.HasFrame() {
		if time.Now().After(deadline) {
			t.Fatal("no frame delivered")
		}
		time.Sleep(time.Millisecond)
	}

	if rec := do(t, s, "POST", "/api/session/stop"); rec.Code != http.StatusAccepted {
		t.Fatalf("stop: expected 202, got %d", rec.Code)
	}
	if err := sess.Wait(); err != nil {
		t.Fatalf("loop error: %v", err)
	}

	rec = do(t, s, "GET", "/api/session")
	st = SessionStatus{}
	json.Unmarshal(rec.Body.Bytes(), &st)
	if st.Running || !st.HasFrame || st.Stats.Delivered == 0 || st.Broadcast.Frames == 0 {
		t.Fatalf("unexpected final status: %+v", st)
	}
}

func TestProbe(t *testing.T) {
	s, _, _ := newTestServer(t, &capturetest.Graphics{Width: 1024, Height: 768})

	rec := do(t, s, "POST", "/api/session/probe")
	if rec.Code != http.StatusOK {
		t.Fatalf("probe: %d %s", rec.Code, rec.Body)
	}
	var f capture.Frame
	json.Unmarshal(rec.Body.Bytes(), &f)
	if f.Width != 1024 || f.Height != 768 {
		t.Fatalf("probe frame %dx%d", f.Width, f.Height)
	}
}

func TestProbeTimeout(t *testing.T) {
	g := &capturetest.Graphics{Acquire: func(int, time.Duration) error { return capture.ErrWaitTimeout }}
	s, _, _ := newTestServer(t, g)

	if rec := do(t, s, "POST", "/api/session/probe"); rec.Code != http.StatusGatewayTimeout {
		t.Fatalf("expected 504, got %d", rec.Code)
	}
}

func TestStartAfterClose(t *testing.T) {
	s, sess, _ := newTestServer(t, &capturetest.Graphics{})
	sess.Close()

	if rec := do(t, s, "POST", "/api/session/start"); rec.Code != http.StatusGone {
		t.Fatalf("expected 410, got %d", rec.Code)
	}
}

func TestGetConfig(t *testing.T) {
	s, _, _ := newTestServer(t, &capturetest.Graphics{})
	rec := do(t, s, "GET", "/api/config")
	var cfg config.Config
	if err := json.Unmarshal(rec.Body.Bytes(), &cfg); err != nil || cfg.Port != "8080" {
		t.Fatalf("config: %v %+v", err, cfg)
	}
}

func TestFramesWebSocket(t *testing.T) {
	s, sess, b := newTestServer(t, &capturetest.Graphics{})
	if err := b.Start(); err != nil {
		t.Fatal(err)
	}

	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/frames"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Subscription happens before the upgrade, so frames written now are queued
	if err := sess.OnFrame(output.Handler(b)); err != nil {
		t.Fatalf("OnFrame: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var f capture.Frame
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if f.Sequence == 0 || f.Width != 1920 {
		t.Fatalf("unexpected frame %+v", f)
	}
}

func TestFramesWithoutBroadcaster(t *testing.T) {
	s, _, _ := newTestServer(t, &capturetest.Graphics{})
	if rec := do(t, s, "GET", "/api/frames"); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}
