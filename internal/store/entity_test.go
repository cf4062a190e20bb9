package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntityStore_CreateStartsAtVersionOne(t *testing.T) {
	db := testDB(t)
	entities := NewEntityStore(db)
	ctx := context.Background()

	row, err := entities.Create(ctx, "storyline", 0, map[string]any{
		"name":        "The Long Night",
		"description": "book one",
	})
	require.NoError(t, err)

	assert.Greater(t, row.ID, int64(0))
	assert.Equal(t, int64(1), row.Version)
	assert.Equal(t, "The Long Night", row.Fields["name"])
	assert.Nil(t, row.DeletedAt)
	assert.False(t, row.CreatedAt.IsZero())
	assert.False(t, row.UpdatedAt.IsZero())
}

func TestEntityStore_CreateWithExplicitID(t *testing.T) {
	db := testDB(t)
	entities := NewEntityStore(db)
	ctx := context.Background()

	row, err := entities.Create(ctx, "actor", 42, map[string]any{"first_name": "Jon"})
	require.NoError(t, err)
	assert.Equal(t, int64(42), row.ID)

	got, err := entities.Get(ctx, "actor", 42)
	require.NoError(t, err)
	assert.Equal(t, "Jon", got.Fields["first_name"])
}

func TestEntityStore_CreateTakenIDConflicts(t *testing.T) {
	db := testDB(t)
	entities := NewEntityStore(db)
	ctx := context.Background()

	_, err := entities.Create(ctx, "actor", 42, map[string]any{"first_name": "Jon"})
	require.NoError(t, err)

	// Losing the insert race surfaces as a conflict, not a raw driver
	// error.
	_, err = entities.Create(ctx, "actor", 42, map[string]any{"first_name": "Impostor"})
	assert.ErrorIs(t, err, ErrConflict)

	got, err := entities.Get(ctx, "actor", 42)
	require.NoError(t, err)
	assert.Equal(t, "Jon", got.Fields["first_name"])
	assert.Equal(t, int64(1), got.Version)
}

func TestIsUniqueConstraintError(t *testing.T) {
	assert.False(t, isUniqueConstraintError(nil))
	assert.False(t, isUniqueConstraintError(ErrNotFound))
}

func TestEntityStore_CreateMissingRequiredField(t *testing.T) {
	db := testDB(t)
	entities := NewEntityStore(db)

	_, err := entities.Create(context.Background(), "storyline", 0, map[string]any{
		"description": "no name",
	})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestEntityStore_CreateUnknownField(t *testing.T) {
	db := testDB(t)
	entities := NewEntityStore(db)

	_, err := entities.Create(context.Background(), "storyline", 0, map[string]any{
		"name":   "ok",
		"sneaky": "nope",
	})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestEntityStore_CreateStripsReservedFields(t *testing.T) {
	db := testDB(t)
	entities := NewEntityStore(db)

	row, err := entities.Create(context.Background(), "storyline", 0, map[string]any{
		"name":    "Arc",
		"version": 99,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), row.Version)
}

func TestEntityStore_UpdateBumpsVersion(t *testing.T) {
	db := testDB(t)
	entities := NewEntityStore(db)
	ctx := context.Background()

	row, err := entities.Create(ctx, "storyline", 0, map[string]any{"name": "v1"})
	require.NoError(t, err)

	updated, err := entities.Update(ctx, "storyline", row.ID, map[string]any{"name": "v2"}, 1, false)
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Version)
	assert.Equal(t, "v2", updated.Fields["name"])
	assert.True(t, updated.UpdatedAt.After(row.UpdatedAt) || updated.UpdatedAt.Equal(row.UpdatedAt))
}

func TestEntityStore_UpdateStaleVersionConflicts(t *testing.T) {
	db := testDB(t)
	entities := NewEntityStore(db)
	ctx := context.Background()

	row, err := entities.Create(ctx, "storyline", 0, map[string]any{"name": "v1"})
	require.NoError(t, err)
	_, err = entities.Update(ctx, "storyline", row.ID, map[string]any{"name": "v2"}, 1, false)
	require.NoError(t, err)

	_, err = entities.Update(ctx, "storyline", row.ID, map[string]any{"name": "stale"}, 1, false)
	assert.ErrorIs(t, err, ErrConflict)

	// The row is untouched by the failed update.
	got, err := entities.Get(ctx, "storyline", row.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)
	assert.Equal(t, "v2", got.Fields["name"])
}

func TestEntityStore_UpdateForceSkipsVersionCheck(t *testing.T) {
	db := testDB(t)
	entities := NewEntityStore(db)
	ctx := context.Background()

	row, err := entities.Create(ctx, "storyline", 0, map[string]any{"name": "v1"})
	require.NoError(t, err)

	updated, err := entities.Update(ctx, "storyline", row.ID, map[string]any{"name": "forced"}, 99, true)
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Version)
}

func TestEntityStore_UpdateMissingRow(t *testing.T) {
	db := testDB(t)
	entities := NewEntityStore(db)

	_, err := entities.Update(context.Background(), "storyline", 12345, map[string]any{"name": "x"}, 1, false)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEntityStore_SoftDelete(t *testing.T) {
	db := testDB(t)
	entities := NewEntityStore(db)
	ctx := context.Background()

	row, err := entities.Create(ctx, "storyline", 0, map[string]any{"name": "doomed"})
	require.NoError(t, err)

	deleted, err := entities.SoftDelete(ctx, "storyline", row.ID, 1, false)
	require.NoError(t, err)
	assert.True(t, deleted.Deleted())
	assert.Equal(t, int64(2), deleted.Version)

	// Tombstones are still readable but no longer updatable.
	got, err := entities.Get(ctx, "storyline", row.ID)
	require.NoError(t, err)
	assert.True(t, got.Deleted())

	_, err = entities.Update(ctx, "storyline", row.ID, map[string]any{"name": "zombie"}, 2, false)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = entities.SoftDelete(ctx, "storyline", row.ID, 2, false)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEntityStore_SoftDeleteStaleVersionConflicts(t *testing.T) {
	db := testDB(t)
	entities := NewEntityStore(db)
	ctx := context.Background()

	row, err := entities.Create(ctx, "storyline", 0, map[string]any{"name": "x"})
	require.NoError(t, err)
	_, err = entities.Update(ctx, "storyline", row.ID, map[string]any{"name": "y"}, 1, false)
	require.NoError(t, err)

	_, err = entities.SoftDelete(ctx, "storyline", row.ID, 1, false)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestEntityStore_ListChangedSince(t *testing.T) {
	db := testDB(t)
	entities := NewEntityStore(db)
	ctx := context.Background()

	first, err := entities.Create(ctx, "actor", 0, map[string]any{"first_name": "Arya"})
	require.NoError(t, err)
	second, err := entities.Create(ctx, "actor", 0, map[string]any{"first_name": "Sansa"})
	require.NoError(t, err)
	_, err = entities.SoftDelete(ctx, "actor", second.ID, 1, false)
	require.NoError(t, err)

	rows, err := entities.ListChangedSince(ctx, "actor", time.Time{})
	require.NoError(t, err)
	require.Len(t, rows, 2)

	// Ascending updated_at: the tombstone was touched last.
	assert.Equal(t, first.ID, rows[0].ID)
	assert.Equal(t, second.ID, rows[1].ID)
	assert.True(t, rows[1].Deleted())

	// Pure query: repeating it returns the same batch.
	again, err := entities.ListChangedSince(ctx, "actor", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, rows, again)

	// Cursor past the newest change yields nothing.
	empty, err := entities.ListChangedSince(ctx, "actor", rows[1].UpdatedAt)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestEntityStore_ListChangedSinceWholeSecondBoundary(t *testing.T) {
	db := testDB(t)
	entities := NewEntityStore(db)
	ctx := context.Background()

	// A change half a second after a whole-second cursor must be visible:
	// the stored text form has to sort after "10:00:05Z"-style values.
	since := time.Date(2026, 8, 29, 10, 0, 5, 0, time.UTC)
	entities.now = func() time.Time { return since.Add(500 * time.Millisecond) }

	row, err := entities.Create(ctx, "storyline", 0, map[string]any{"name": "late"})
	require.NoError(t, err)

	rows, err := entities.ListChangedSince(ctx, "storyline", since)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, row.ID, rows[0].ID)

	n, err := entities.CountChangedSince(ctx, "storyline", since)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// And the exact cursor timestamp itself is excluded, not off by the
	// encoding.
	entities.now = func() time.Time { return since }
	exact, err := entities.Create(ctx, "storyline", 0, map[string]any{"name": "exact"})
	require.NoError(t, err)

	rows, err = entities.ListChangedSince(ctx, "storyline", since)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.NotEqual(t, exact.ID, rows[0].ID)
}

func TestEntityStore_CountChangedSince(t *testing.T) {
	db := testDB(t)
	entities := NewEntityStore(db)
	ctx := context.Background()

	_, err := entities.Create(ctx, "location", 0, map[string]any{"name": "Winterfell"})
	require.NoError(t, err)
	row, err := entities.Create(ctx, "location", 0, map[string]any{"name": "The Wall"})
	require.NoError(t, err)

	n, err := entities.CountChangedSince(ctx, "location", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = entities.CountChangedSince(ctx, "location", row.UpdatedAt)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestEntityStore_UnknownEntityType(t *testing.T) {
	db := testDB(t)
	entities := NewEntityStore(db)

	_, err := entities.Create(context.Background(), "dragon", 0, map[string]any{"name": "x"})
	assert.ErrorIs(t, err, ErrValidation)
}
