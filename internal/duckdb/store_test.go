package duckdb

import (
	"testing"

	"github.com/fleetwatch/fleetwatch/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore("")
	if err != nil {
		t.Fatalf("NewStore(\"\") failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func mustCategory(t *testing.T, store *Store, name string) *model.Category {
	t.Helper()
	cat, err := store.EnsureCategory(name)
	if err != nil {
		t.Fatalf("EnsureCategory(%q): %v", name, err)
	}
	return cat
}

func mustDevice(t *testing.T, store *Store, hostname, categoryID string) *model.Device {
	t.Helper()
	dev, err := store.UpsertDevice(hostname, categoryID, "")
	if err != nil {
		t.Fatalf("UpsertDevice(%q): %v", hostname, err)
	}
	return dev
}
