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

// PairingTokenStore persists short-lived pairing tokens. A consumed token
// is soft-deleted rather than removed, which is what makes single-use
// enforcement survive restarts.
type PairingTokenStore struct {
	db dbx.DBTX
}

func NewPairingTokenStore(db dbx.DBTX) *PairingTokenStore {
	return &PairingTokenStore{db: db}
}

const tokenColumns = `id, token, expires_at, version, created_at, deleted_at`

// Create inserts a new pairing token.
func (s *PairingTokenStore) Create(ctx context.Context, token string, expiresAt time.Time) (*model.PairingToken, error) {
	now := time.Now()
	query := `INSERT INTO sync_pairing_tokens (token, expires_at, version, created_at, updated_at)
		VALUES (?, ?, 1, ?, ?)`

	result, err := s.db.ExecContext(ctx, query,
		token, formatTime(expiresAt), formatTime(now), formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("inserting pairing token: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}

	return &model.PairingToken{
		ID:        id,
		Token:     token,
		ExpiresAt: expiresAt.UTC(),
		Version:   1,
		CreatedAt: now.UTC(),
	}, nil
}

// GetByToken fetches a token whether or not it has been consumed; the
// caller distinguishes consumed from expired for error reporting.
func (s *PairingTokenStore) GetByToken(ctx context.Context, token string) (*model.PairingToken, error) {
	query := `SELECT ` + tokenColumns + ` FROM sync_pairing_tokens WHERE token = ?`
	return s.scan(s.db.QueryRowContext(ctx, query, token))
}

// LatestActive returns the newest unconsumed, unexpired token, or
// ErrNotFound when none exists.
func (s *PairingTokenStore) LatestActive(ctx context.Context, now time.Time) (*model.PairingToken, error) {
	query := `SELECT ` + tokenColumns + ` FROM sync_pairing_tokens
		WHERE deleted_at IS NULL AND expires_at > ?
		ORDER BY created_at DESC LIMIT 1`
	return s.scan(s.db.QueryRowContext(ctx, query, formatTime(now)))
}

// Consume marks a token redeemed. The deleted_at IS NULL guard makes
// consumption first-wins under concurrent redemption attempts.
func (s *PairingTokenStore) Consume(ctx context.Context, id int64) error {
	now := formatTime(time.Now())
	query := `UPDATE sync_pairing_tokens
		SET deleted_at = ?, updated_at = ?, version = version + 1
		WHERE id = ? AND deleted_at IS NULL`

	result, err := s.db.ExecContext(ctx, query, now, now, id)
	if err != nil {
		return fmt.Errorf("consuming pairing token: %w", err)
	}
	return requireAffected(result)
}

func (s *PairingTokenStore) scan(row *sql.Row) (*model.PairingToken, error) {
	var (
		t         model.PairingToken
		expiresAt string
		createdAt string
		deletedAt sql.NullString
	)
	err := row.Scan(&t.ID, &t.Token, &expiresAt, &t.Version, &createdAt, &deletedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if t.ExpiresAt, err = parseTime(expiresAt); err != nil {
		return nil, fmt.Errorf("parsing token expires_at: %w", err)
	}
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing token created_at: %w", err)
	}
	if deletedAt.Valid {
		ts, err := parseTime(deletedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing token deleted_at: %w", err)
		}
		t.DeletedAt = &ts
	}
	return &t, nil
}
