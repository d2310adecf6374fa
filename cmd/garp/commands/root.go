package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/bryanchriswhite/garp/internal/capture"
	"github.com/bryanchriswhite/garp/internal/capture/backend"
	"github.com/bryanchriswhite/garp/internal/config"
	"github.com/bryanchriswhite/garp/internal/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "garp",
		Short: "garp - desktop duplication capture",
		Long: `garp captures the desktop of one monitor through the platform's display
duplication API and hands each frame to a consumer.

Backends:
  • dxgi        DXGI Desktop Duplication (Windows)
  • x11         X11 / XWayland with DAMAGE pacing
  • screenshot  periodic screenshots (any platform)
  • auto        the first of the above that works

Frames can be printed, probed one at a time, or streamed over a local
websocket API.`,
		SilenceUsage: true,
	}
)

// flagKeys maps persistent flags onto config keys.
var flagKeys = map[string]string{
	"host":      "host",
	"port":      "port",
	"log-level": "log_level",
	"backend":   "capture.backend",
	"output":    "capture.output_index",
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/garp/config.yaml)")
	rootCmd.PersistentFlags().String("host", "", "API listen host (default is localhost)")
	rootCmd.PersistentFlags().String("port", "", "API listen port (default is 8080)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("backend", "", "capture backend (auto, dxgi, x11, screenshot)")
	rootCmd.PersistentFlags().Int("output", 0, "index of the output (monitor) to capture")

	// Bind flags to viper
	for flag, key := range flagKeys {
		viper.BindPFlag(key, rootCmd.PersistentFlags().Lookup(flag))
	}
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// GetConfigFile returns the config file path
func GetConfigFile() string {
	return cfgFile
}

// loadConfig opens the config file, applies flags given on the command line
// and configures logging from the result.
func loadConfig() (*config.Manager, error) {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	for flag, key := range flagKeys {
		if !viper.IsSet(key) {
			continue
		}
		if err := configMgr.Set(key, viper.Get(key)); err != nil {
			return nil, fmt.Errorf("invalid --%s: %w", flag, err)
		}
	}

	cfg := configMgr.Get()
	logger.Init(cfg.LogLevel, cfg.LogPretty)
	return configMgr, nil
}

// openBackend opens the configured capture backend.
func openBackend(cfg *config.Config) (backend.Graphics, error) {
	return backend.Open(cfg.Capture.Backend, backend.Options{
		Display: cfg.Capture.Display,
		FPS:     cfg.Capture.FPS,
	})
}

// sessionOptions translates capture config into session options.
func sessionOptions(cfg *config.Config) []capture.Option {
	c := cfg.Capture
	return []capture.Option{
		capture.WithRetryPolicy(capture.RetryPolicy{
			OutputIndex: c.OutputIndex,
			Attempts:    c.Retry.Attempts,
			Backoff:     c.Retry.Backoff,
		}),
		capture.WithAcquireTimeout(c.AcquireTimeout),
		capture.WithProbeTimeout(c.ProbeTimeout),
		capture.WithPollInterval(c.PollInterval),
	}
}

// openSession opens the backend and a capture session on it. closeAll
// releases both.
func openSession(ctx context.Context, cfg *config.Config) (sess *capture.Session, closeAll func(), err error) {
	g, err := openBackend(cfg)
	if err != nil {
		return nil, nil, err
	}

	sess, err = capture.New(ctx, g, sessionOptions(cfg)...)
	if err != nil {
		g.Close()
		return nil, nil, err
	}

	return sess, func() {
		sess.Close()
		<-sess.Done()
		g.Close()
	}, nil
}
