package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	statusadapter "github.com/mfields/cadence/internal/adapters/render/status"
)

func newStatusCmd(app *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show engine, session and queue status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			pending, err := app.heal.PendingAuthorizations(cmd.Context())
			if err != nil {
				return fmt.Errorf("load pending authorizations: %w", err)
			}

			snap := app.cfg.Snapshot()
			waiting, running := app.queue.Depth()
			snapshot := statusadapter.Snapshot{
				Environment:        snap.Environment,
				SessionState:       string(app.supervisor.State()),
				Health:             app.supervisor.HealthStatus(cmd.Context()),
				MaxSessionErrors:   snap.MaxSessionErrors,
				QueueWaiting:       waiting,
				QueueRunning:       running,
				ConsecutiveActions: app.tracker.ConsecutiveActions(),
				ControlPlaneSet:    app.controlPlane.IsConfigured(),
				Circuit:            app.controlPlane.CircuitState(),
				Pending:            pending,
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(snapshot)
			}

			rendered, err := app.statusRenderer(snapshot, statusadapter.RenderOptions{Now: app.now()})
			if err != nil {
				return fmt.Errorf("render status: %w", err)
			}

			_, err = fmt.Fprintln(cmd.OutOrStdout(), rendered)
			return err
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit machine-readable JSON")

	return cmd
}
