package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/bryanchriswhite/garp/internal/capture"
	"github.com/bryanchriswhite/garp/internal/logger"
	"github.com/bryanchriswhite/garp/internal/output"
	"github.com/spf13/cobra"
)

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Capture frames and print them",
	Long: `Duplicate the configured output and print one line per captured frame
until interrupted, until --frames frames were captured, or until --duration
elapses. Frames carry the surface description, not pixel data.`,
	Example: `  # Print frames until Ctrl+C
  garp capture

  # Capture 100 frames from the second monitor as JSON
  garp capture --output 1 --frames 100 --format json

  # Capture for five seconds with the X11 backend
  garp capture --backend x11 --duration 5s`,
	RunE: runCapture,
}

var (
	captureFrames   int
	captureDuration time.Duration
	captureFormat   string
)

func init() {
	rootCmd.AddCommand(captureCmd)

	captureCmd.Flags().IntVarP(&captureFrames, "frames", "n", 0, "stop after this many frames (0 for no limit)")
	captureCmd.Flags().DurationVarP(&captureDuration, "duration", "d", 0, "stop after this long (0 for no limit)")
	captureCmd.Flags().StringVarP(&captureFormat, "format", "f", output.FormatText, "output format (text or json)")
}

func runCapture(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("cli")

	configMgr, err := loadConfig()
	if err != nil {
		return err
	}
	cfg := configMgr.Get()

	out, err := output.NewWriterOutput(cmd.OutOrStdout(), captureFormat)
	if err != nil {
		return err
	}
	out.Start()
	defer out.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sess, closeAll, err := openSession(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to start capture session: %w", err)
	}
	defer closeAll()

	var count atomic.Int64
	write := output.Handler(out)
	err = sess.OnFrame(func(f capture.Frame) error {
		if err := write(f); err != nil {
			return err
		}
		if captureFrames > 0 && count.Add(1) >= int64(captureFrames) {
			sess.Stop()
		}
		return nil
	})
	if err != nil {
		return err
	}

	var deadline <-chan time.Time
	if captureDuration > 0 {
		t := time.NewTimer(captureDuration)
		defer t.Stop()
		deadline = t.C
	}

	select {
	case <-sess.Done():
	case <-ctx.Done():
		log.Info().Msg("Interrupted, stopping capture")
		sess.Stop()
	case <-deadline:
		sess.Stop()
	}

	if err := sess.Wait(); err != nil {
		var herr *capture.HandlerError
		if errors.As(err, &herr) {
			return fmt.Errorf("frame output failed: %w", err)
		}
		return err
	}

	st := sess.Stats()
	log.Info().
		Uint64("delivered", st.Delivered).
		Uint64("timeouts", st.Timeouts).
		Uint64("absorbed_errors", st.Absorbed).
		Msg("Capture finished")
	return nil
}
