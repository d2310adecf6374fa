package commands

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bryanchriswhite/garp/internal/api"
	"github.com/bryanchriswhite/garp/internal/config"
	"github.com/bryanchriswhite/garp/internal/logger"
	"github.com/bryanchriswhite/garp/internal/output"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the capture API server",
	Long: `Duplicate the configured output and serve a local HTTP API to start and
stop capture, probe single frames and stream frame descriptions over a
websocket at /api/frames.`,
	Example: `  # Start server on default port (8080)
  garp serve

  # Start server on custom port
  garp serve --port 9090

  # Start capturing immediately
  garp serve --start

  # Start with debug logging
  garp serve --log-level debug`,
	RunE: runServe,
}

var serveStart bool

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&serveStart, "start", false, "start capturing as soon as the server is up")
}

func runServe(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("cli")

	configMgr, err := loadConfig()
	if err != nil {
		return err
	}
	cfg := configMgr.Get()
	log.Info().Str("path", configMgr.GetConfigPath()).Msg("Configuration loaded")

	// Re-apply the log level when the file is edited
	configMgr.OnChange(func(c *config.Config) {
		logger.SetLevel(c.LogLevel)
	})
	configMgr.Watch()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sess, closeAll, err := openSession(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to start capture session: %w", err)
	}
	defer closeAll()

	broadcaster := output.NewBroadcaster()
	if err := broadcaster.Start(); err != nil {
		return err
	}
	defer broadcaster.Stop()

	if serveStart {
		if err := sess.OnFrame(output.Handler(broadcaster)); err != nil {
			return err
		}
	}

	server := api.NewServer(sess, broadcaster, configMgr)
	addr := net.JoinHostPort(cfg.Host, cfg.Port)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(addr)
	}()

	log.Info().
		Str("addr", "http://"+addr).
		Str("session_id", sess.ID()).
		Str("backend", sess.Backend()).
		Msg("garp is running, press Ctrl+C to stop")

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down gracefully...")
	sess.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	// Closing the broadcaster ends open websocket streams
	broadcaster.Stop()
	return server.Shutdown(shutdownCtx)
}
