package testutil

import (
	"testing"

	"fstore-go/internal/database"
)

// NewTestMetadataStore creates a migrated in-memory SQLite metadata store.
// The store is automatically closed when the test completes.
func NewTestMetadataStore(t *testing.T) *database.SQLiteMetadataStore {
	t.Helper()

	db, err := database.NewSQLiteMetadataStore(":memory:")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})

	if err := db.Migrate(); err != nil {
		t.Fatalf("failed to migrate database: %v", err)
	}
	return db
}
