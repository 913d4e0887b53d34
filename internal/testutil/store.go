package testutil

import (
	"testing"

	"jot-go/internal/jot"
	"jot-go/internal/store"
)

// NewTestStore creates an in-memory SQLite store with migrations applied
// and a temp directory for resource blobs. The store is automatically
// closed when the test completes.
func NewTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	return NewTestStoreWithClock(t, FixedClock(), NewStubIDGenerator())
}

// NewTestStoreWithClock is NewTestStore with the clock and id generator
// under test control.
func NewTestStoreWithClock(t *testing.T, clock jot.Clock, idgen jot.IDGenerator) *store.SQLiteStore {
	t.Helper()

	st, err := store.NewSQLiteStore(":memory:", t.TempDir(), clock, idgen)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}

	if err := st.MigrateUp(); err != nil {
		st.Close()
		t.Fatalf("failed to migrate store: %v", err)
	}

	t.Cleanup(func() {
		st.Close()
	})

	return st
}
