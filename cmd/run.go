package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mfields/cadence/internal/application"
	"github.com/mfields/cadence/internal/config"
	"github.com/mfields/cadence/internal/domain"
)

func newRunCmd(app *app) *cobra.Command {
	var cycles int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run browsing cycles against the configured site",
		Long:  "run launches the supervised browser session and works through feed-browsing cycles: scroll, dwell like a reader, scroll on. Rate-limit cooldowns apply between actions and every cycle is reported to the control plane when one is configured.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			snap := app.cfg.Snapshot()
			report := config.Validate(snap)
			for _, warning := range report.Warnings {
				app.log.Warnf("config: %s", warning)
			}
			if len(report.Errors) > 0 {
				for _, e := range report.Errors {
					app.log.Errorf("config: %s", e)
				}
				if snap.IsProduction() {
					return fmt.Errorf("refusing to run in production with %d config error(s)", len(report.Errors))
				}
				app.log.Warnf("continuing despite config errors (%s environment)", snap.Environment)
			}

			if app.controlPlane.HasEndpoint() {
				if _, err := app.controlPlane.Register(ctx, map[string]any{"command": "run"}); err != nil {
					app.log.Warnf("control plane registration failed: %v", err)
				}
				applyRemoteLimits(app)
			}

			app.supervisor.StartMonitor(ctx)
			defer func() {
				if app.supervisor.State() == application.StateUninitialized {
					return
				}
				if session, err := app.supervisor.Instance(context.WithoutCancel(ctx), application.InstanceOptions{}); err == nil {
					_ = session.Close(context.WithoutCancel(ctx))
				}
			}()

			for cycle := 0; cycle < cycles; cycle++ {
				handle, err := app.queue.Enqueue(ctx, func(ctx context.Context) (any, error) {
					return nil, browseCycle(ctx, app)
				}, domain.JobMeta{Type: "browse", Target: snap.SiteURL})
				if err != nil {
					return err
				}

				if _, err := handle.Wait(ctx); err != nil {
					if errors.Is(err, domain.ErrSessionUnavailable) {
						if healErr := awaitHealApproval(ctx, app); healErr != nil {
							return healErr
						}
						cycle--
						continue
					}
					app.supervisor.RecordError(err)
					app.log.Errorf("browse cycle %d: %v", cycle+1, err)
					continue
				}

				app.controlPlane.ReportInteraction(ctx, "browse", map[string]any{"cycle": cycle + 1})

				if report := app.tracker.DetectSuspiciousActivity(); report.Patterns.Any() {
					app.log.Warnf("self-check: %s", report.Recommendation)
				}
			}

			app.tracker.LogPerformanceMetrics()

			_, err := fmt.Fprintf(cmd.OutOrStdout(), "completed %d browse cycle(s), %d actions recorded\n", cycles, app.tracker.RecordCount())
			return err
		},
	}

	cmd.Flags().IntVar(&cycles, "cycles", 3, "Number of feed-browsing cycles")

	return cmd
}

// browseCycle is one human-shaped pass over the feed: scroll a bit,
// linger on whatever is in view, scroll on.
func browseCycle(ctx context.Context, app *app) error {
	session, err := app.supervisor.Instance(ctx, application.InstanceOptions{ReinitializeIfUnhealthy: true})
	if err != nil {
		return err
	}

	if _, err := app.tracker.CheckAndApplyCooldown(ctx); err != nil {
		return err
	}

	if err := app.simulator.Scroll(ctx, session, 600); err != nil {
		return err
	}
	if err := app.simulator.SimulateReading(ctx, 800, app.cfg.Snapshot().ReadingWPM); err != nil {
		return err
	}

	return app.simulator.Scroll(ctx, session, 400)
}

// awaitHealApproval parks the run loop on the durable heal handshake
// after the session becomes unavailable. The loop resumes once an
// operator authorizes the session from another process.
func awaitHealApproval(ctx context.Context, app *app) error {
	sessionID := fmt.Sprintf("session-%d", app.now().UnixMilli())
	app.log.Warnf("session needs operator attention; run `cadence heal authorize %s` to resume", sessionID)

	if err := app.heal.WaitForAuthorization(ctx, sessionID); err != nil {
		return fmt.Errorf("await heal authorization: %w", err)
	}

	return nil
}

// applyRemoteLimits folds control-plane parameters into the live
// config; zero-valued fields keep their local values.
func applyRemoteLimits(app *app) {
	params := app.controlPlane.SyncRateLimits(context.Background())
	if params == nil {
		return
	}

	app.cfg.Update(func(s *config.Settings) {
		if params.ActionsPerMinute > 0 {
			s.ActionsPerMinute = params.ActionsPerMinute
		}
		if params.ActionsPerHour > 0 {
			s.ActionsPerHour = params.ActionsPerHour
		}
		if params.MinActionDelayMs > 0 {
			s.MinActionDelayMs = params.MinActionDelayMs
		}
		if params.MaxActionDelayMs > 0 {
			s.MaxActionDelayMs = params.MaxActionDelayMs
		}
		if params.CooldownMinMs > 0 {
			s.CooldownMinMs = params.CooldownMinMs
		}
		if params.CooldownMaxMs > 0 {
			s.CooldownMaxMs = params.CooldownMaxMs
		}
	})
}
