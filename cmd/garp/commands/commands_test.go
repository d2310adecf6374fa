package commands

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bryanchriswhite/garp/internal/capture/capturetest"
	"github.com/bryanchriswhite/garp/internal/config"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func TestConfigSetGet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	out, err := execute(t, "config", "set", "capture.retry.backoff", "250ms", "--config", path)
	if err != nil {
		t.Fatalf("config set: %v (%s)", err, out)
	}
	if !strings.Contains(out, "capture.retry.backoff = 250ms") {
		t.Fatalf("unexpected output %q", out)
	}

	out, err = execute(t, "config", "get", "capture.retry.backoff", "--config", path)
	if err != nil {
		t.Fatalf("config get: %v", err)
	}
	if strings.TrimSpace(out) != "250ms" {
		t.Fatalf("config get = %q, want 250ms", out)
	}

	out, err = execute(t, "config", "path", "--config", path)
	if err != nil || strings.TrimSpace(out) != path {
		t.Fatalf("config path = %q, %v", out, err)
	}
}

func TestConfigSetRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	if _, err := execute(t, "config", "set", "port", "80", "--config", path); err == nil {
		t.Fatal("expected short port to be rejected")
	}
	if _, err := execute(t, "config", "set", "capture.retry.attempts", "many", "--config", path); err == nil {
		t.Fatal("expected non-numeric attempts to be rejected")
	}

	out, err := execute(t, "config", "get", "port", "--config", path)
	if err != nil || strings.TrimSpace(out) != "8080" {
		t.Fatalf("port after rejected set = %q, %v", out, err)
	}
}

func TestConfigShow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	out, err := execute(t, "config", "show", "--config", path)
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	for _, want := range []string{"capture:", "backend: auto", "attempts: 10"} {
		if !strings.Contains(out, want) {
			t.Errorf("config show missing %q:\n%s", want, out)
		}
	}
}

func TestListOutputs(t *testing.T) {
	g := &capturetest.Graphics{Outputs: 2, Width: 2560, Height: 1440}

	listing, err := listOutputs(g)
	if err != nil {
		t.Fatalf("listOutputs: %v", err)
	}
	if listing.Backend != "fake" || len(listing.Outputs) != 2 {
		t.Fatalf("unexpected listing: %+v", listing)
	}
	if g.LiveHandles() != 0 {
		t.Fatalf("handles leaked: %d", g.LiveHandles())
	}

	var buf bytes.Buffer
	if err := printOutputsTable(&buf, listing); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "2560x1440") || !strings.Contains(buf.String(), `\\.\DISPLAY2`) {
		t.Fatalf("unexpected table:\n%s", buf.String())
	}
}

func TestConfigKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if _, err := execute(t, "config", "set", "capture.backend", "screenshot", "--config", path); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, "config", "keys", "--config", path)
	if err != nil {
		t.Fatalf("config keys: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 1+len(config.Keys()) {
		t.Fatalf("expected a header and %d keys, got:\n%s", len(config.Keys()), out)
	}
	found := false
	for _, l := range lines {
		f := strings.Fields(l)
		if len(f) == 3 && f[0] == "capture.backend" {
			found = f[1] == "auto" && f[2] == "screenshot"
		}
	}
	if !found {
		t.Fatalf("capture.backend row missing or wrong:\n%s", out)
	}
}
