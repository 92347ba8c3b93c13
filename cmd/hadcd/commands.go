package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vrosnet/hadc/internal/population"
	"github.com/vrosnet/hadc/internal/supervisor"
)

func requireConfigPath(flags *globalFlags, args []string) (string, error) {
	path := resolveConfigPath(flags, args)
	if path == "" {
		path = os.Getenv("HADC_CONFIG")
	}
	if path == "" {
		return "", fmt.Errorf("hadcd: no config file given (pass --config, a positional argument, or set HADC_CONFIG)")
	}
	return path, nil
}

// dumpStatus prints the observed per-slot status, per SPEC_FULL.md §7's
// "reconciliation failures ... status dumped" policy.
func dumpStatus(sup *supervisor.Supervisor) {
	for _, line := range population.Observe(sup).Lines() {
		fmt.Println(line)
	}
}

func createStartCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "start [config.toml]",
		Short: "Reconcile both populations up to their configured sizes",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := requireConfigPath(flags, args)
			if err != nil {
				return err
			}
			_, sup, err := loadSupervisor(path)
			if err != nil {
				return err
			}
			if err := sup.Start(cmd.Context()); err != nil {
				dumpStatus(sup)
				return err
			}
			return nil
		},
	}
}

func createStopCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "stop [config.toml]",
		Short: "Drain standbys and signal mains to exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := requireConfigPath(flags, args)
			if err != nil {
				return err
			}
			_, sup, err := loadSupervisor(path)
			if err != nil {
				return err
			}
			if err := sup.Stop(cmd.Context()); err != nil {
				dumpStatus(sup)
				return err
			}
			return nil
		},
	}
}

func createRestartCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "restart [config.toml]",
		Short: "Restart mains one at a time via standby promotion, minimizing downtime",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := requireConfigPath(flags, args)
			if err != nil {
				return err
			}
			_, sup, err := loadSupervisor(path)
			if err != nil {
				return err
			}
			if err := sup.Restart(cmd.Context()); err != nil {
				dumpStatus(sup)
				return err
			}
			return nil
		},
	}
}

func createHardRestartCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "hard_restart [config.toml]",
		Short: "Stop both populations, then start them back up from scratch",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := requireConfigPath(flags, args)
			if err != nil {
				return err
			}
			_, sup, err := loadSupervisor(path)
			if err != nil {
				return err
			}
			if err := sup.HardRestart(cmd.Context()); err != nil {
				dumpStatus(sup)
				return err
			}
			return nil
		},
	}
}

func createReloadCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "reload [config.toml]",
		Short: "Send SIGHUP to every live main, asking it to re-read its config in place",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := requireConfigPath(flags, args)
			if err != nil {
				return err
			}
			_, sup, err := loadSupervisor(path)
			if err != nil {
				return err
			}
			if err := sup.Reload(cmd.Context()); err != nil {
				dumpStatus(sup)
				return err
			}
			return nil
		},
	}
}

func createForkCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "fork [config.toml]",
		Short: "Top up both populations to their configured sizes without waiting for completeness",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := requireConfigPath(flags, args)
			if err != nil {
				return err
			}
			_, sup, err := loadSupervisor(path)
			if err != nil {
				return err
			}
			return sup.Fork(cmd.Context())
		},
	}
}

func createStatusCommand(flags *globalFlags) *cobra.Command {
	var quiet bool
	cmd := &cobra.Command{
		Use:   "status [config.toml]",
		Short: "Print the observed status of both populations",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := requireConfigPath(flags, args)
			if err != nil {
				return err
			}
			_, sup, err := loadSupervisor(path)
			if err != nil {
				return err
			}
			snap := population.Observe(sup)
			if !quiet {
				for _, line := range snap.Lines() {
					fmt.Println(line)
				}
			}
			if !snap.Healthy() {
				return fmt.Errorf("hadcd: %s is not at full population", snap.Name)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&quiet, "quiet", false, "suppress per-slot lines, only set the exit code")
	return cmd
}
