package main

import (
	"github.com/spf13/cobra"
)

// globalFlags holds the one flag every subcommand but __worker shares.
type globalFlags struct {
	ConfigPath string
}

func buildRoot() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:   "hadcd",
		Short: "High-availability process supervisor",
		Long: `hadcd supervises a fixed population of main and standby worker
processes on one host, promoting a standby to main when the current main
exits.

Examples:
  hadcd start --config=payments.toml
  hadcd status --config=payments.toml
  hadcd serve --config=payments.toml`,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (or set HADC_CONFIG)")

	root.AddCommand(
		createStartCommand(flags),
		createStopCommand(flags),
		createRestartCommand(flags),
		createHardRestartCommand(flags),
		createStatusCommand(flags),
		createReloadCommand(flags),
		createForkCommand(flags),
		createGetInitFileCommand(flags),
		createServeCommand(flags),
	)

	return root
}
