// Package factory builds a store.Store from a store.Config, dispatching
// to the configured backend without internal/store importing its own
// subpackages (which would cycle back through store.Record/store.Store).
package factory

import (
	"fmt"
	"strings"

	"github.com/vrosnet/hadc/internal/store"
	"github.com/vrosnet/hadc/internal/store/postgres"
	"github.com/vrosnet/hadc/internal/store/sqlite"
)

// New builds the store.Store cfg describes. An empty cfg.Type disables
// the store: New returns (nil, nil) and callers should skip store wiring.
func New(cfg store.Config) (store.Store, error) {
	switch strings.ToLower(cfg.Type) {
	case "":
		return nil, nil
	case "sqlite":
		return sqlite.New(cfg.DSN)
	case "postgres", "postgresql":
		return postgres.New(cfg.DSN)
	default:
		return nil, fmt.Errorf("store: unsupported type %q (supported: sqlite, postgres)", cfg.Type)
	}
}
