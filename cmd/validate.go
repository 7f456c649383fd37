package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mfields/cadence/internal/config"
)

func newValidateCmd(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the loaded configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			report := config.Validate(app.cfg.Snapshot())

			for _, e := range report.Errors {
				fmt.Fprintf(out, "error: %s\n", e)
			}
			for _, w := range report.Warnings {
				fmt.Fprintf(out, "warning: %s\n", w)
			}
			for _, r := range report.Recommendations {
				fmt.Fprintf(out, "recommendation: %s\n", r)
			}

			if !report.OK() {
				return fmt.Errorf("configuration has %d error(s)", len(report.Errors))
			}

			_, err := fmt.Fprintln(out, "configuration is valid")
			return err
		},
	}
}
