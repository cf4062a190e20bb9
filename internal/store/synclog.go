package store

import (
	"context"
	"fmt"
	"time"

	"github.com/storymaster/storymaster-sync/internal/dbx"
)

// SyncLogEntry is one line of the append-only audit trail. Entries are
// never mutated; reconciliation decisions rely on row versions, not on
// this log.
type SyncLogEntry struct {
	ID         int64
	DeviceID   int64
	EntityType string
	EntityID   int64
	Operation  string
	SyncedAt   time.Time
}

// SyncLogStore appends to and reads the sync_log audit table.
type SyncLogStore struct {
	db dbx.DBTX
}

func NewSyncLogStore(db dbx.DBTX) *SyncLogStore {
	return &SyncLogStore{db: db}
}

// Append records one applied mutation for the given device row id.
func (s *SyncLogStore) Append(ctx context.Context, deviceID int64, entityType string, entityID int64, operation string) error {
	query := `INSERT INTO sync_log (device_id, entity_type, entity_id, operation, synced_at)
		VALUES (?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		deviceID, entityType, entityID, operation, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("appending sync log: %w", err)
	}
	return nil
}

// ListByDevice returns the most recent entries for a device, newest first.
func (s *SyncLogStore) ListByDevice(ctx context.Context, deviceID int64, limit int) ([]SyncLogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, device_id, entity_type, entity_id, operation, synced_at
		FROM sync_log WHERE device_id = ? ORDER BY id DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, deviceID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing sync log: %w", err)
	}
	defer rows.Close()

	var entries []SyncLogEntry
	for rows.Next() {
		var (
			e        SyncLogEntry
			syncedAt string
		)
		if err := rows.Scan(&e.ID, &e.DeviceID, &e.EntityType, &e.EntityID, &e.Operation, &syncedAt); err != nil {
			return nil, err
		}
		if e.SyncedAt, err = parseTime(syncedAt); err != nil {
			return nil, fmt.Errorf("parsing synced_at: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
