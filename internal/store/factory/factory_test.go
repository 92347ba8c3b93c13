package factory

import (
	"testing"

	"github.com/vrosnet/hadc/internal/store"
)

func TestNewEmptyTypeDisablesStore(t *testing.T) {
	s, err := New(store.Config{})
	if err != nil || s != nil {
		t.Fatalf("expected (nil, nil) for empty type, got (%v, %v)", s, err)
	}
}

func TestNewSQLite(t *testing.T) {
	s, err := New(store.Config{Type: "sqlite", DSN: ":memory:"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()
}

func TestNewUnsupportedType(t *testing.T) {
	if _, err := New(store.Config{Type: "dynamodb"}); err == nil {
		t.Fatal("expected error for unsupported store type")
	}
}
