package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/arin/chatstream/internal/ui"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List the models the configured provider offers",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession()
		if err != nil {
			return err
		}

		sp := ui.NewSpinner("Fetching models...")
		sp.Start()
		models, err := s.backend.ListModels(cmd.Context())
		if err != nil {
			sp.Fail("Could not list models")
			return fmt.Errorf("could not list models: %w", err)
		}
		sp.Success(fmt.Sprintf("%d models on %s", len(models), s.backend.Name()))

		if len(models) == 0 {
			return nil
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tSIZE\tPARAMS\tQUANT\tMODIFIED")
		for _, m := range models {
			size, modified := "-", "-"
			if m.Size > 0 {
				size = ui.FormatBytes(m.Size)
			}
			if !m.ModifiedAt.IsZero() {
				modified = m.ModifiedAt.Format("2006-01-02")
			}
			name := m.Name
			if name == s.backend.Model() || name == s.backend.Model()+":latest" {
				name += " *"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", name, size, dash(m.ParameterSize), dash(m.Quantization), modified)
		}
		return tw.Flush()
	},
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
