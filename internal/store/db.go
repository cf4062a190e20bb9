package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/storymaster/storymaster-sync/internal/store/migrations"
)

// timeFormat is how timestamps are persisted. The fractional part is
// fixed-width: RFC3339Nano would drop it entirely at whole seconds, and
// "..05Z" sorts after "..05.5Z" as TEXT, which would break the updated_at
// comparisons and the ascending pull ordering inside SQLite. UTC plus a
// constant width keeps the encoding lexicographically ordered.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// Open opens the shared desktop SQLite file. The pool is capped at a single
// connection: the sync subsystem runs on one background worker and must
// serialize against GUI-initiated writes rather than contend with them.
func Open(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying %q: %w", pragma, err)
		}
	}

	return db, nil
}

// Migrate applies the embedded schema migrations. The sync tables and the
// per-table sync columns are part of the base schema contract, not a
// retrofit.
func Migrate(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.FS)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("setting goose dialect: %w", err)
	}

	return goose.UpContext(ctx, db, ".")
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) (time.Time, error) {
	// RFC3339Nano also accepts the fixed-width form, plus any rows written
	// before the width was pinned.
	return time.Parse(time.RFC3339Nano, s)
}
