package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Capture a single frame",
	Long: `Duplicate the configured output, wait briefly for one frame and print its
description. Useful to check that a backend can capture at all.`,
	Example: `  # Probe the default output
  garp probe

  # Probe with the screenshot backend as JSON
  garp probe --backend screenshot --format json`,
	RunE: runProbe,
}

var probeFormat string

func init() {
	rootCmd.AddCommand(probeCmd)

	probeCmd.Flags().StringVarP(&probeFormat, "format", "f", "text", "output format (text or json)")
}

func runProbe(cmd *cobra.Command, args []string) error {
	configMgr, err := loadConfig()
	if err != nil {
		return err
	}
	cfg := configMgr.Get()

	sess, closeAll, err := openSession(cmd.Context(), cfg)
	if err != nil {
		return fmt.Errorf("failed to start capture session: %w", err)
	}
	defer closeAll()

	frame, err := sess.CaptureOnce(cmd.Context())
	if err != nil {
		return fmt.Errorf("probe failed: %w", err)
	}

	w := cmd.OutOrStdout()
	switch probeFormat {
	case "json":
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(frame)
	case "text":
		fmt.Fprintf(w, "Backend:  %s\n", sess.Backend())
		fmt.Fprintf(w, "Output:   %d\n", cfg.Capture.OutputIndex)
		fmt.Fprintf(w, "Size:     %dx%d\n", frame.Width, frame.Height)
		fmt.Fprintf(w, "Format:   %s\n", frame.Format)
		fmt.Fprintf(w, "Frames:   %d accumulated\n", frame.AccumulatedFrames)
		return nil
	default:
		return fmt.Errorf("unsupported format: %s (use 'text' or 'json')", probeFormat)
	}
}
