package main

import (
	"testing"

	"github.com/vrosnet/hadc/internal/config"
)

func TestResolveConfigPathPrefersPositionalArg(t *testing.T) {
	flags := &globalFlags{ConfigPath: "from-flag.toml"}
	if got := resolveConfigPath(flags, []string{"from-arg.toml"}); got != "from-arg.toml" {
		t.Fatalf("expected positional arg to win, got %q", got)
	}
	if got := resolveConfigPath(flags, nil); got != "from-flag.toml" {
		t.Fatalf("expected flag fallback, got %q", got)
	}
}

func TestRequireConfigPathErrorsWhenUnset(t *testing.T) {
	if _, err := requireConfigPath(&globalFlags{}, nil); err == nil {
		t.Fatal("expected error when no config path is given")
	}
}

func TestBuildHistorySinksPrefixesSchemeFromType(t *testing.T) {
	sinks, err := buildHistorySinks([]config.HistorySink{{Type: "sqlite", DSN: ":memory:"}})
	if err != nil {
		t.Fatalf("buildHistorySinks: %v", err)
	}
	if len(sinks) != 1 {
		t.Fatalf("expected 1 sink, got %d", len(sinks))
	}
}

func TestBuildHistorySinksRejectsUnknownScheme(t *testing.T) {
	if _, err := buildHistorySinks([]config.HistorySink{{Type: "", DSN: "dynamodb://table"}}); err == nil {
		t.Fatal("expected error for unrecognized DSN scheme")
	}
}
