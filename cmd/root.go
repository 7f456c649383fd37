package cmd

import "github.com/spf13/cobra"

func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "cadence",
		Short:         "Cadence: human-paced browser interaction engine",
		Long:          "cadence drives an automated browser session with human-like pacing: rate-limited interaction jobs, suspicious-pattern self-checks, session supervision, and an operator-in-the-loop heal flow for challenge screens.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	app, err := wireApp()
	if err != nil {
		rootCmd.RunE = func(_ *cobra.Command, _ []string) error {
			return err
		}
		return rootCmd
	}

	rootCmd.AddCommand(
		newVersionCmd(),
		newRunCmd(app),
		newStatusCmd(app),
		newHealCmd(app),
		newValidateCmd(app),
		newRegisterCmd(app),
	)

	return rootCmd
}
