package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/bryanchriswhite/garp/internal/capture"
	"github.com/spf13/cobra"
)

var outputsCmd = &cobra.Command{
	Use:   "outputs",
	Short: "List capturable outputs",
	Long: `List the outputs (monitors) of the first adapter of the configured backend.
The INDEX column is the value to pass to --output.`,
	Example: `  # List outputs in table format (default)
  garp outputs

  # List outputs of the DXGI backend as JSON
  garp outputs --backend dxgi --format json`,
	RunE: runOutputs,
}

var outputsFormat string

func init() {
	rootCmd.AddCommand(outputsCmd)

	outputsCmd.Flags().StringVarP(&outputsFormat, "format", "f", "table", "output format (table or json)")
}

type outputsListing struct {
	Backend string               `json:"backend"`
	Adapter capture.AdapterDesc  `json:"adapter"`
	Outputs []capture.OutputDesc `json:"outputs"`
}

func runOutputs(cmd *cobra.Command, args []string) error {
	configMgr, err := loadConfig()
	if err != nil {
		return err
	}

	g, err := openBackend(configMgr.Get())
	if err != nil {
		return err
	}
	defer g.Close()

	listing, err := listOutputs(g)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	switch outputsFormat {
	case "json":
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(listing)
	case "table":
		return printOutputsTable(w, listing)
	default:
		return fmt.Errorf("unsupported format: %s (use 'table' or 'json')", outputsFormat)
	}
}

// listOutputs enumerates adapter 0 until the backend reports ErrNotFound.
func listOutputs(g capture.Graphics) (*outputsListing, error) {
	adapter, err := g.EnumAdapter(0)
	if err != nil {
		return nil, fmt.Errorf("failed to open adapter: %w", err)
	}
	defer adapter.Release()

	listing := &outputsListing{Backend: g.Name(), Outputs: []capture.OutputDesc{}}
	if desc, err := adapter.Desc(); err == nil {
		listing.Adapter = desc
	}

	for i := 0; ; i++ {
		out, err := adapter.EnumOutput(i)
		if errors.Is(err, capture.ErrNotFound) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to enumerate output %d: %w", i, err)
		}
		desc, err := out.Desc()
		out.Release()
		if err != nil {
			return nil, fmt.Errorf("failed to describe output %d: %w", i, err)
		}
		desc.Index = i
		listing.Outputs = append(listing.Outputs, desc)
	}
	return listing, nil
}

func printOutputsTable(w io.Writer, listing *outputsListing) error {
	fmt.Fprintf(w, "Backend: %s\nAdapter: %s\n\n", listing.Backend, listing.Adapter.Description)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	fmt.Fprintln(tw, "INDEX\tNAME\tSIZE\tPOSITION\tATTACHED")
	fmt.Fprintln(tw, "-----\t----\t----\t--------\t--------")

	for _, o := range listing.Outputs {
		attached := "No"
		if o.AttachedToDesktop {
			attached = "Yes"
		}
		fmt.Fprintf(tw, "%d\t%s\t%dx%d\t(%d, %d)\t%s\n",
			o.Index, o.Name, o.Bounds.Dx(), o.Bounds.Dy(), o.Bounds.Min.X, o.Bounds.Min.Y, attached)
	}
	return nil
}
