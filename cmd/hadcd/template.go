package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vrosnet/hadc/internal/config"
	"github.com/vrosnet/hadc/pkg/template"
)

func createGetInitFileCommand(flags *globalFlags) *cobra.Command {
	var userCode string
	cmd := &cobra.Command{
		Use:   "get_init_file [config.toml]",
		Short: "Print an LSB init script for this population",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := requireConfigPath(flags, args)
			if err != nil {
				return err
			}
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			scriptPath, err := os.Executable()
			if err != nil {
				return fmt.Errorf("hadcd: resolve executable: %w", err)
			}
			out, err := template.NewGenerator().RenderInitScript(template.InitScriptParams{
				Name:       cfg.File.Name,
				ScriptPath: scriptPath,
				ConfigPath: path,
				UserCode:   userCode,
			})
			if err != nil {
				return err
			}
			fmt.Println(out)
			return nil
		},
	}
	cmd.Flags().StringVar(&userCode, "user-code", "", "pre-rendered shell snippet embedded verbatim in the init script")
	return cmd
}
