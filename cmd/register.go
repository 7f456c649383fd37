package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mfields/cadence/internal/version"
)

const controlPlaneKeySecret = "cadence/control_plane/api_key"

func newRegisterCmd(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "register",
		Short: "Register this deployment with the control plane",
		RunE: func(cmd *cobra.Command, _ []string) error {
			deployment, err := app.controlPlane.Register(cmd.Context(), map[string]any{
				"version":     version.Version,
				"environment": app.cfg.Snapshot().Environment,
			})
			if err != nil {
				return err
			}

			if deployment.ControlPlaneAPIKey != "" {
				if err := app.secretStore.Put(cmd.Context(), controlPlaneKeySecret, deployment.ControlPlaneAPIKey); err != nil {
					return fmt.Errorf("store control plane api key: %w", err)
				}
			}

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "registered deployment %s\n", deployment.ID)
			return err
		},
	}
}
