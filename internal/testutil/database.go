// Package testutil provides test databases and fixture builders shared by
// the matching, enrichment and job tests.
package testutil

import (
	"context"
	"testing"

	"github.com/Veraticus/the-spice-must-match/internal/storage"
)

// TestDB is a migrated in-memory database scoped to one test.
type TestDB struct {
	Storage *storage.SQLiteStorage
	t       *testing.T
}

// SetupTestDB creates a new in-memory test database.
// It automatically handles migrations and cleanup.
//
// Example:
//
//	db := testutil.SetupTestDB(t)
//	db.Seed(testutil.NewLedger().
//		WithTransaction("t1", "-54.99", testutil.Day(10), "AMZN MKTPLACE").
//		WithOrder("o1", "54.99", testutil.Day(8)))
func SetupTestDB(t *testing.T) *TestDB {
	t.Helper()

	store, err := storage.NewSQLiteStorage(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	if err := store.Migrate(context.Background()); err != nil {
		_ = store.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}

	t.Cleanup(func() {
		_ = store.Close()
	})

	return &TestDB{Storage: store, t: t}
}

// Seed writes every record collected by l or fails the test.
func (db *TestDB) Seed(l *Ledger) {
	db.t.Helper()
	if err := l.Build(context.Background(), db.Storage); err != nil {
		db.t.Fatalf("failed to seed ledger: %v", err)
	}
}
