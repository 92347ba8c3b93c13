package main

import (
	"fmt"
	"strings"

	"github.com/vrosnet/hadc/internal/config"
	"github.com/vrosnet/hadc/internal/history"
	historyfactory "github.com/vrosnet/hadc/internal/history/factory"
	"github.com/vrosnet/hadc/internal/logger"
	"github.com/vrosnet/hadc/internal/store"
	storefactory "github.com/vrosnet/hadc/internal/store/factory"
	"github.com/vrosnet/hadc/internal/supervisor"
)

// loadSupervisor loads the config at path and builds the Supervisor it
// describes, wiring the optional store and history observability hooks.
func loadSupervisor(path string) (*config.Config, *supervisor.Supervisor, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}

	log := logger.New()
	sup := supervisor.New(cfg.SupervisorConfig(), log)

	if cfg.File.Store != nil {
		st, err := storefactory.New(store.Config{Type: cfg.File.Store.Type, DSN: cfg.File.Store.DSN})
		if err != nil {
			return nil, nil, fmt.Errorf("hadcd: build store: %w", err)
		}
		sup.Store = st
	}

	if cfg.File.History != nil {
		sinks, err := buildHistorySinks(cfg.File.History.Sinks)
		if err != nil {
			return nil, nil, fmt.Errorf("hadcd: build history sinks: %w", err)
		}
		sup.History = sinks
	}

	return cfg, sup, nil
}

// buildHistorySinks resolves each configured sink to a history.Sink via
// internal/history/factory, which dispatches on DSN scheme; a sink without
// one is prefixed with its configured type so the factory can still
// recognize it.
func buildHistorySinks(sinks []config.HistorySink) ([]history.Sink, error) {
	out := make([]history.Sink, 0, len(sinks))
	for _, s := range sinks {
		dsn := s.DSN
		if !strings.Contains(dsn, "://") && s.Type != "" {
			dsn = s.Type + "://" + dsn
		}
		sink, err := historyfactory.NewSinkFromDSN(dsn)
		if err != nil {
			return nil, fmt.Errorf("sink %q: %w", s.Type, err)
		}
		out = append(out, sink)
	}
	return out, nil
}

func resolveConfigPath(flags *globalFlags, args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return flags.ConfigPath
}
