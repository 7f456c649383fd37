package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// The heal subcommands are the operator side of the handshake: a
// blocked engine process polls the shared record store while a human
// runs `cadence heal authorize` from another terminal.
func newHealCmd(app *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "heal",
		Short: "Review and resolve sessions waiting on a human",
	}

	cmd.AddCommand(
		newHealPendingCmd(app),
		newHealAuthorizeCmd(app),
		newHealCancelCmd(app),
	)

	return cmd
}

func newHealPendingCmd(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List sessions waiting for authorization",
		RunE: func(cmd *cobra.Command, _ []string) error {
			pending, err := app.heal.PendingAuthorizations(cmd.Context())
			if err != nil {
				return err
			}

			if len(pending) == 0 {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), "no sessions waiting for authorization")
				return err
			}

			for _, session := range pending {
				age := app.now().Sub(session.Timestamp).Round(time.Second)
				if _, err := fmt.Fprintf(cmd.OutOrStdout(), "%s\twaiting %s\n", session.SessionID, age); err != nil {
					return err
				}
			}

			return nil
		},
	}
}

func newHealAuthorizeCmd(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "authorize <session-id>",
		Short: "Authorize a waiting session to resume",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ok, err := app.heal.Authorize(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("no pending session %q", args[0])
			}

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "session %s authorized\n", args[0])
			return err
		},
	}
}

func newHealCancelCmd(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <session-id>",
		Short: "Cancel a waiting session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ok, err := app.heal.Cancel(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("no pending session %q", args[0])
			}

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "session %s cancelled\n", args[0])
			return err
		},
	}
}
