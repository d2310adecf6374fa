package commands

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/bryanchriswhite/garp/internal/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage garp configuration",
	Long: `Inspect and edit the garp config file. Values set here are validated with
the same rules the capture commands apply at startup, and GARP_* environment
variables override the file (e.g. GARP_CAPTURE_BACKEND=x11).`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Example: `  garp config show
  garp config show --format json`,
	RunE: withConfig(func(cmd *cobra.Command, mgr *config.Manager, args []string) error {
		settings := mgr.Settings()
		switch showFormat {
		case "json":
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(settings)
		case "yaml":
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(settings)
		default:
			return fmt.Errorf("unsupported format: %s (use 'yaml' or 'json')", showFormat)
		}
	}),
}

var configSetCmd = &cobra.Command{
	Use:   "set KEY VALUE",
	Short: "Validate and save a configuration value",
	Example: `  # Capture the second monitor
  garp config set capture.output_index 1

  # Give a busy output more time to free up
  garp config set capture.retry.attempts 20
  garp config set capture.retry.backoff 250ms`,
	Args: cobra.ExactArgs(2),
	RunE: withConfig(func(cmd *cobra.Command, mgr *config.Manager, args []string) error {
		key := args[0]
		value, err := config.ParseValue(key, args[1])
		if err != nil {
			return err
		}
		if err := mgr.Set(key, value); err != nil {
			return err
		}
		if err := mgr.Save(); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Configuration updated: %s = %v\n", key, value)
		return nil
	}),
}

var configGetCmd = &cobra.Command{
	Use:     "get KEY",
	Short:   "Print one configuration value",
	Example: `  garp config get capture.backend`,
	Args:    cobra.ExactArgs(1),
	RunE: withConfig(func(cmd *cobra.Command, mgr *config.Manager, args []string) error {
		v := mgr.GetViper()
		if !v.IsSet(args[0]) {
			return fmt.Errorf("configuration key not found: %s", args[0])
		}
		fmt.Fprintln(cmd.OutOrStdout(), v.Get(args[0]))
		return nil
	}),
}

var configKeysCmd = &cobra.Command{
	Use:   "keys",
	Short: "List settable keys with their default and current values",
	RunE: withConfig(func(cmd *cobra.Command, mgr *config.Manager, args []string) error {
		v := mgr.GetViper()
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "KEY\tDEFAULT\tCURRENT")
		for _, key := range config.Keys() {
			def, _ := config.Default(key)
			fmt.Fprintf(tw, "%s\t%v\t%v\n", key, def, v.Get(key))
		}
		return tw.Flush()
	}),
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file path",
	RunE: withConfig(func(cmd *cobra.Command, mgr *config.Manager, args []string) error {
		fmt.Fprintln(cmd.OutOrStdout(), mgr.GetConfigPath())
		return nil
	}),
}

var showFormat string

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd, configSetCmd, configGetCmd, configKeysCmd, configPathCmd)

	configShowCmd.Flags().StringVarP(&showFormat, "format", "f", "yaml", "output format (yaml or json)")
}

// withConfig opens the config file named by --config without applying flag
// overrides, so edits are made against what is on disk.
func withConfig(run func(*cobra.Command, *config.Manager, []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		mgr, err := config.NewManager(GetConfigFile())
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		return run(cmd, mgr, args)
	}
}
