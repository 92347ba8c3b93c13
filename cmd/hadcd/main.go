// Command hadcd is the CLI entry point for one supervised population:
// start, stop, restart, hard_restart, status, reload, fork, get_init_file,
// plus the ambient serve surface. Grounded on cmd/provisr/main.go's cobra
// tree, reduced to the command set this spec actually needs.
package main

import (
	"fmt"
	"os"

	"github.com/vrosnet/hadc/internal/supervisor"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == supervisor.WorkerArg {
		os.Exit(runWorker(os.Args[2:]))
	}

	root := buildRoot()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
