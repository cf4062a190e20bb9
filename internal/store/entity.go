package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/storymaster/storymaster-sync/internal/dbx"
	"github.com/storymaster/storymaster-sync/internal/model"
)

// reserved are the sync-tracking columns the store owns. Client-supplied
// values for these are stripped from payloads before they touch SQL.
var reserved = map[string]bool{
	"id":         true,
	"created_at": true,
	"updated_at": true,
	"deleted_at": true,
	"version":    true,
}

// EntityStore is the versioned store adapter. Every mutation runs in its
// own short transaction and enforces the versioning invariant: version
// starts at 1 and increments by exactly 1 on create, update and soft
// delete.
type EntityStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewEntityStore(db *sql.DB) *EntityStore {
	return &EntityStore{db: db, now: time.Now}
}

// Create inserts a new row with version 1. When id > 0 the row keeps the
// caller-assigned identity (device-created entities arrive with their own
// id); otherwise SQLite assigns one.
func (s *EntityStore) Create(ctx context.Context, entityType string, id int64, fields map[string]any) (*model.EntityRow, error) {
	et, ok := LookupEntityType(entityType)
	if !ok {
		return nil, fmt.Errorf("%w: unknown entity type %q", ErrValidation, entityType)
	}

	payload, err := et.cleanPayload(fields)
	if err != nil {
		return nil, err
	}
	for _, col := range et.Required {
		if _, ok := payload[col]; !ok {
			return nil, fmt.Errorf("%w: missing required field %q", ErrValidation, col)
		}
	}

	now := s.now().UTC()
	cols := []string{"created_at", "updated_at", "version"}
	args := []any{formatTime(now), formatTime(now), 1}
	if id > 0 {
		cols = append(cols, "id")
		args = append(args, id)
	}
	for _, col := range et.Columns {
		if v, ok := payload[col]; ok {
			cols = append(cols, col)
			args = append(args, v)
		}
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		et.Table, strings.Join(cols, ", "), placeholders(len(cols)))

	var row *model.EntityRow
	err = dbx.WithTx(ctx, s.db, func(ctx context.Context, tx dbx.DBTX) error {
		result, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			if isUniqueConstraintError(err) {
				// A concurrent insert took the id first; the caller
				// resolves against the winning row.
				return ErrConflict
			}
			return fmt.Errorf("inserting %s: %w", et.Name, err)
		}
		newID := id
		if newID == 0 {
			newID, err = result.LastInsertId()
			if err != nil {
				return err
			}
		}
		row, err = et.get(ctx, tx, newID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return row, nil
}

// Get returns a row by id, tombstones included.
func (s *EntityStore) Get(ctx context.Context, entityType string, id int64) (*model.EntityRow, error) {
	et, ok := LookupEntityType(entityType)
	if !ok {
		return nil, fmt.Errorf("%w: unknown entity type %q", ErrValidation, entityType)
	}
	return et.get(ctx, s.db, id)
}

// Update applies changed fields with an optimistic version check. A stale
// expectedVersion yields ErrConflict and leaves the row untouched. force
// skips the version check (last-writer-wins); only reconciliation may use
// it. Tombstoned rows cannot be updated.
func (s *EntityStore) Update(ctx context.Context, entityType string, id int64, fields map[string]any, expectedVersion int64, force bool) (*model.EntityRow, error) {
	et, ok := LookupEntityType(entityType)
	if !ok {
		return nil, fmt.Errorf("%w: unknown entity type %q", ErrValidation, entityType)
	}

	payload, err := et.cleanPayload(fields)
	if err != nil {
		return nil, err
	}
	if len(payload) == 0 {
		return nil, fmt.Errorf("%w: no updatable fields", ErrValidation)
	}

	var row *model.EntityRow
	err = dbx.WithTx(ctx, s.db, func(ctx context.Context, tx dbx.DBTX) error {
		current, err := et.get(ctx, tx, id)
		if err != nil {
			return err
		}
		if current.Deleted() {
			return ErrNotFound
		}
		if !force && current.Version != expectedVersion {
			return ErrConflict
		}

		sets := make([]string, 0, len(payload)+2)
		args := make([]any, 0, len(payload)+4)
		for _, col := range et.Columns {
			if v, ok := payload[col]; ok {
				sets = append(sets, col+" = ?")
				args = append(args, v)
			}
		}
		sets = append(sets, "updated_at = ?", "version = version + 1")
		args = append(args, formatTime(s.now()), id, current.Version)

		query := fmt.Sprintf("UPDATE %s SET %s WHERE id = ? AND version = ?",
			et.Table, strings.Join(sets, ", "))
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("updating %s: %w", et.Name, err)
		}

		row, err = et.get(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return row, nil
}

// SoftDelete tombstones a row under the same versioning discipline as
// Update. The row stays queryable for reconciliation.
func (s *EntityStore) SoftDelete(ctx context.Context, entityType string, id int64, expectedVersion int64, force bool) (*model.EntityRow, error) {
	et, ok := LookupEntityType(entityType)
	if !ok {
		return nil, fmt.Errorf("%w: unknown entity type %q", ErrValidation, entityType)
	}

	var row *model.EntityRow
	err := dbx.WithTx(ctx, s.db, func(ctx context.Context, tx dbx.DBTX) error {
		current, err := et.get(ctx, tx, id)
		if err != nil {
			return err
		}
		if current.Deleted() {
			return ErrNotFound
		}
		if !force && current.Version != expectedVersion {
			return ErrConflict
		}

		now := formatTime(s.now())
		query := fmt.Sprintf(
			"UPDATE %s SET deleted_at = ?, updated_at = ?, version = version + 1 WHERE id = ? AND version = ?",
			et.Table)
		if _, err := tx.ExecContext(ctx, query, now, now, id, current.Version); err != nil {
			return fmt.Errorf("soft-deleting %s: %w", et.Name, err)
		}

		row, err = et.get(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return row, nil
}

// ListChangedSince returns every row, tombstones included, with
// updated_at > since, ordered by updated_at ascending. It is a pure query:
// repeating the call yields the same batch until something changes.
func (s *EntityStore) ListChangedSince(ctx context.Context, entityType string, since time.Time) ([]model.EntityRow, error) {
	et, ok := LookupEntityType(entityType)
	if !ok {
		return nil, fmt.Errorf("%w: unknown entity type %q", ErrValidation, entityType)
	}

	query := fmt.Sprintf(
		"SELECT %s FROM %s WHERE updated_at > ? ORDER BY updated_at ASC",
		et.selectColumns(), et.Table)

	rows, err := s.db.QueryContext(ctx, query, formatTime(since))
	if err != nil {
		return nil, fmt.Errorf("listing changed %s: %w", et.Name, err)
	}
	defer rows.Close()

	var result []model.EntityRow
	for rows.Next() {
		row, err := et.scan(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *row)
	}
	return result, rows.Err()
}

// CountChangedSince counts rows with updated_at > since without
// materializing them, for the sync status endpoint.
func (s *EntityStore) CountChangedSince(ctx context.Context, entityType string, since time.Time) (int64, error) {
	et, ok := LookupEntityType(entityType)
	if !ok {
		return 0, fmt.Errorf("%w: unknown entity type %q", ErrValidation, entityType)
	}

	var count int64
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE updated_at > ?", et.Table)
	err := s.db.QueryRowContext(ctx, query, formatTime(since)).Scan(&count)
	return count, err
}

// cleanPayload strips reserved columns and rejects unknown ones.
func (et EntityType) cleanPayload(fields map[string]any) (map[string]any, error) {
	payload := make(map[string]any, len(fields))
	for name, value := range fields {
		if reserved[name] {
			continue
		}
		if !et.hasColumn(name) {
			return nil, fmt.Errorf("%w: unknown field %q for %s", ErrValidation, name, et.Name)
		}
		payload[name] = value
	}
	return payload, nil
}

func (et EntityType) selectColumns() string {
	cols := append([]string{"id"}, et.Columns...)
	cols = append(cols, "version", "created_at", "updated_at", "deleted_at")
	return strings.Join(cols, ", ")
}

func (et EntityType) get(ctx context.Context, q dbx.DBTX, id int64) (*model.EntityRow, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = ?", et.selectColumns(), et.Table)
	rows, err := q.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", et.Name, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}
	return et.scan(rows)
}

func (et EntityType) scan(rows *sql.Rows) (*model.EntityRow, error) {
	dest := make([]any, len(et.Columns)+5)
	var (
		id        int64
		version   int64
		createdAt string
		updatedAt string
		deletedAt sql.NullString
	)
	dest[0] = &id
	values := make([]any, len(et.Columns))
	for i := range et.Columns {
		dest[i+1] = &values[i]
	}
	dest[len(et.Columns)+1] = &version
	dest[len(et.Columns)+2] = &createdAt
	dest[len(et.Columns)+3] = &updatedAt
	dest[len(et.Columns)+4] = &deletedAt

	if err := rows.Scan(dest...); err != nil {
		return nil, fmt.Errorf("scanning %s: %w", et.Name, err)
	}

	fields := make(map[string]any, len(et.Columns))
	for i, col := range et.Columns {
		fields[col] = normalizeValue(values[i])
	}

	row := &model.EntityRow{
		ID:      id,
		Fields:  fields,
		Version: version,
	}

	var err error
	if row.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at for %s: %w", et.Name, err)
	}
	if row.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at for %s: %w", et.Name, err)
	}
	if deletedAt.Valid {
		t, err := parseTime(deletedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing deleted_at for %s: %w", et.Name, err)
		}
		row.DeletedAt = &t
	}

	return row, nil
}

// isUniqueConstraintError checks if a SQLite error is a unique or primary
// key violation.
func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// normalizeValue maps driver scan types to JSON-friendly ones.
func normalizeValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
