package service

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/storymaster/storymaster-sync/internal/store"
)

func testDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := store.Open(filepath.Join(t.TempDir(), "sync_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, store.Migrate(context.Background(), db))
	return db
}

func newTestPairingService(db *sql.DB) *PairingService {
	return NewPairingService(db, "test-secret", 5*time.Minute, time.Hour, 8765)
}
