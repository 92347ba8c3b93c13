package main

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vrosnet/hadc/internal/auth"
	"github.com/vrosnet/hadc/internal/server"
	hadctls "github.com/vrosnet/hadc/internal/tls"
)

// createServeCommand runs the read-only HTTP status/metrics surface
// described in SPEC_FULL.md §4.5, for as long as the process lives. It
// never mutates lock state; all start/stop/reload/fork dispatch happens
// through the CLI commands directly, so this command only ever reads the
// Supervisor's own Status() (and, if configured, its Store).
func createServeCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Run the read-only HTTP status/metrics surface",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := requireConfigPath(flags, args)
			if err != nil {
				return err
			}
			cfg, sup, err := loadSupervisor(path)
			if err != nil {
				return err
			}
			if cfg.File.Server == nil {
				return fmt.Errorf("hadcd: serve requires a [server] block in the config")
			}
			sc := *cfg.File.Server

			mw := auth.New(sc.AuthToken)
			basePath := sc.BasePath
			listen := sc.Listen
			if listen == "" {
				listen = ":8080"
			}

			httpServer := server.NewServer(listen, sup, mw, basePath)

			tlsCfg, err := hadctls.SetupTLS(sc)
			if err != nil {
				return fmt.Errorf("hadcd: setup TLS: %w", err)
			}

			ln, err := net.Listen("tcp", listen)
			if err != nil {
				return fmt.Errorf("hadcd: listen on %s: %w", listen, err)
			}
			if tlsCfg != nil {
				ln = tls.NewListener(ln, tlsCfg)
			}

			errCh := make(chan error, 1)
			go func() { errCh <- httpServer.Serve(ln) }()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

			select {
			case err := <-errCh:
				if err != nil && err != http.ErrServerClosed {
					return err
				}
			case <-sigCh:
				return httpServer.Close()
			}
			return nil
		},
	}
}
