package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/storymaster/storymaster-sync/internal/dbx"
	"github.com/storymaster/storymaster-sync/internal/model"
)

// DeviceStore persists paired devices. It is bound to a DBTX so the pairing
// service can compose it with the token store inside one transaction.
type DeviceStore struct {
	db dbx.DBTX
}

func NewDeviceStore(db dbx.DBTX) *DeviceStore {
	return &DeviceStore{db: db}
}

const deviceColumns = `id, device_id, device_name, auth_token, last_sync_at, is_active, version, created_at, updated_at`

// Create inserts a freshly paired device with version 1.
func (s *DeviceStore) Create(ctx context.Context, device *model.Device) error {
	now := formatTime(time.Now())
	query := `INSERT INTO sync_device (device_id, device_name, auth_token, is_active, version, created_at, updated_at)
		VALUES (?, ?, ?, 1, 1, ?, ?)`

	result, err := s.db.ExecContext(ctx, query,
		device.DeviceID, device.DeviceName, device.AuthToken, now, now)
	if err != nil {
		return fmt.Errorf("inserting sync device: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	device.ID = id
	device.IsActive = true
	device.Version = 1
	return nil
}

// GetByDeviceID fetches a device by its client-generated identifier,
// whether active or revoked.
func (s *DeviceStore) GetByDeviceID(ctx context.Context, deviceID string) (*model.Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM sync_device WHERE device_id = ?`
	return s.scanOne(s.db.QueryRowContext(ctx, query, deviceID))
}

// List returns active devices ordered by pairing time.
func (s *DeviceStore) List(ctx context.Context) ([]model.Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM sync_device WHERE is_active = 1 ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing sync devices: %w", err)
	}
	defer rows.Close()

	var devices []model.Device
	for rows.Next() {
		d, err := s.scanRow(rows)
		if err != nil {
			return nil, err
		}
		devices = append(devices, *d)
	}
	return devices, rows.Err()
}

// Reactivate re-enables a previously paired device under a new name and a
// rotated auth token, bumping its version.
func (s *DeviceStore) Reactivate(ctx context.Context, deviceID, deviceName, authToken string) error {
	query := `UPDATE sync_device
		SET device_name = ?, auth_token = ?, is_active = 1, version = version + 1, updated_at = ?
		WHERE device_id = ?`

	result, err := s.db.ExecContext(ctx, query, deviceName, authToken, formatTime(time.Now()), deviceID)
	if err != nil {
		return fmt.Errorf("reactivating sync device: %w", err)
	}
	return requireAffected(result)
}

// Deactivate revokes sync rights without deleting the row, so sync_log
// history stays attributable.
func (s *DeviceStore) Deactivate(ctx context.Context, deviceID string) error {
	query := `UPDATE sync_device SET is_active = 0, version = version + 1, updated_at = ? WHERE device_id = ? AND is_active = 1`

	result, err := s.db.ExecContext(ctx, query, formatTime(time.Now()), deviceID)
	if err != nil {
		return fmt.Errorf("deactivating sync device: %w", err)
	}
	return requireAffected(result)
}

// UpdateLastSync advances last_sync_at, but never backwards: a late
// acknowledgment for an old pull must not rewind the cursor.
func (s *DeviceStore) UpdateLastSync(ctx context.Context, deviceID string, t time.Time) error {
	query := `UPDATE sync_device SET last_sync_at = ?, updated_at = ?
		WHERE device_id = ? AND (last_sync_at IS NULL OR last_sync_at < ?)`

	ts := formatTime(t)
	_, err := s.db.ExecContext(ctx, query, ts, formatTime(time.Now()), deviceID, ts)
	if err != nil {
		return fmt.Errorf("updating last_sync_at: %w", err)
	}
	return nil
}

func (s *DeviceStore) scanOne(row *sql.Row) (*model.Device, error) {
	d, err := scanDevice(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return d, nil
}

func (s *DeviceStore) scanRow(rows *sql.Rows) (*model.Device, error) {
	return scanDevice(rows.Scan)
}

func scanDevice(scan func(...any) error) (*model.Device, error) {
	var (
		d         model.Device
		lastSync  sql.NullString
		createdAt string
		updatedAt string
	)
	err := scan(&d.ID, &d.DeviceID, &d.DeviceName, &d.AuthToken, &lastSync,
		&d.IsActive, &d.Version, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	if lastSync.Valid {
		t, err := parseTime(lastSync.String)
		if err != nil {
			return nil, fmt.Errorf("parsing last_sync_at: %w", err)
		}
		d.LastSyncAt = &t
	}
	if d.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing device created_at: %w", err)
	}
	if d.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing device updated_at: %w", err)
	}
	return &d, nil
}

func requireAffected(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
