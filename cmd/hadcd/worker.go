package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/vrosnet/hadc/internal/config"
	"github.com/vrosnet/hadc/internal/logger"
	"github.com/vrosnet/hadc/internal/worker"
)

// runWorker is the entry point a re-exec'd hadcd reaches when invoked as
// "hadcd __worker --config path.toml" by supervisor.spawnWorker. It never
// goes through cobra: the re-exec'd process only ever needs --config.
func runWorker(args []string) int {
	fs := flag.NewFlagSet("__worker", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to TOML config file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	wcfg := cfg.WorkerConfig()
	wcfg.Logger = logger.New()

	command, progArgs := cfg.ProgramArgs()
	payload := worker.ExecPayload{
		Command: command,
		WorkDir: wcfg.WorkDir,
		Log:     wcfg.Log,
	}

	return worker.Run(wcfg, payload, progArgs)
}
