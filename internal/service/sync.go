package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/storymaster/storymaster-sync/internal/model"
	"github.com/storymaster/storymaster-sync/internal/store"
)

var (
	ErrBatchTooLarge = errors.New("too many changes in sync batch")
	ErrBadTimestamp  = errors.New("sync_timestamp is required")
)

// SyncService implements the push/pull reconciliation protocol. Sessions
// are stateless between HTTP calls; the only cursor is last_sync_at on the
// device row.
type SyncService struct {
	db       *sql.DB
	entities *store.EntityStore
	maxBatch int
	now      func() time.Time
}

func NewSyncService(db *sql.DB, maxBatch int) *SyncService {
	return &SyncService{
		db:       db,
		entities: store.NewEntityStore(db),
		maxBatch: maxBatch,
		now:      time.Now,
	}
}

// Pull batches changes with updated_at after since, tombstones included,
// in global updated_at order. Batches larger than maxBatch are truncated
// with HasMore set; acknowledging the batch and pulling again resumes from
// the cut. It never advances last_sync_at: the device must acknowledge
// receipt first, so a dropped response just means the same batch is served
// again.
func (s *SyncService) Pull(ctx context.Context, device *model.Device, since time.Time, entityTypes []string) (model.PullResponse, error) {
	types := entityTypes
	if len(types) == 0 {
		types = store.EntityTypeNames()
	}

	resp := model.PullResponse{
		Changes:       []model.EntityChange{},
		SyncTimestamp: since,
	}

	for _, name := range types {
		if _, ok := store.LookupEntityType(name); !ok {
			return model.PullResponse{}, fmt.Errorf("%w: unknown entity type %q", store.ErrValidation, name)
		}
		rows, err := s.entities.ListChangedSince(ctx, name, since)
		if err != nil {
			return model.PullResponse{}, err
		}
		for i := range rows {
			resp.Changes = append(resp.Changes, changeFromRow(name, &rows[i], since))
		}
	}

	sort.SliceStable(resp.Changes, func(i, j int) bool {
		return resp.Changes[i].UpdatedAt.Before(resp.Changes[j].UpdatedAt)
	})

	if len(resp.Changes) > s.maxBatch {
		// Never cut between changes sharing a timestamp: the resumed pull
		// uses a strict updated_at > cursor comparison and would skip the
		// remainder of the group.
		cut := s.maxBatch
		for cut < len(resp.Changes) && resp.Changes[cut].UpdatedAt.Equal(resp.Changes[cut-1].UpdatedAt) {
			cut++
		}
		if cut < len(resp.Changes) {
			resp.Changes = resp.Changes[:cut]
			resp.HasMore = true
		}
	}

	if n := len(resp.Changes); n > 0 {
		resp.SyncTimestamp = resp.Changes[n-1].UpdatedAt
	}

	slog.Debug("sync pull served", "device_id", device.DeviceID,
		"since", since, "changes", len(resp.Changes), "has_more", resp.HasMore)
	return resp, nil
}

// Push applies a batch of device mutations item by item. Each item's
// outcome is independent; a version mismatch is a structured conflict
// carrying the authoritative server row (server wins), never a partial
// field merge. Repeating an already-applied item yields a conflict with the
// unchanged server state, which is what makes retrying a dropped batch
// safe.
func (s *SyncService) Push(ctx context.Context, device *model.Device, items []model.PushItem) (model.PushResponse, error) {
	if len(items) > s.maxBatch {
		return model.PushResponse{}, fmt.Errorf("%w (max %d)", ErrBatchTooLarge, s.maxBatch)
	}

	resp := model.PushResponse{Results: make([]model.PushItemResult, 0, len(items))}
	for _, item := range items {
		result := s.applyItem(ctx, device, item)
		resp.Results = append(resp.Results, result)
		switch result.Status {
		case model.StatusApplied:
			resp.Accepted++
		case model.StatusConflict:
			resp.Conflicts++
		default:
			resp.Rejected++
		}
	}
	resp.Message = fmt.Sprintf("Processed %d changes", len(items))

	if err := store.NewDeviceStore(s.db).UpdateLastSync(ctx, device.DeviceID, s.now()); err != nil {
		return model.PushResponse{}, err
	}

	slog.Info("sync push processed", "device_id", device.DeviceID,
		"accepted", resp.Accepted, "conflicts", resp.Conflicts, "rejected", resp.Rejected)
	return resp, nil
}

// Acknowledge advances last_sync_at after the device confirms it stored a
// pulled batch. ts is the sync_timestamp from that pull.
func (s *SyncService) Acknowledge(ctx context.Context, device *model.Device, ts time.Time) error {
	if ts.IsZero() {
		return ErrBadTimestamp
	}
	return store.NewDeviceStore(s.db).UpdateLastSync(ctx, device.DeviceID, ts)
}

// Status reports how many changes await the device's next pull.
func (s *SyncService) Status(ctx context.Context, device *model.Device) (model.SyncStatusResponse, error) {
	var since time.Time
	if device.LastSyncAt != nil {
		since = *device.LastSyncAt
	}

	var pending int64
	for _, name := range store.EntityTypeNames() {
		n, err := s.entities.CountChangedSince(ctx, name, since)
		if err != nil {
			return model.SyncStatusResponse{}, err
		}
		pending += n
	}

	return model.SyncStatusResponse{
		DeviceID:            device.DeviceID,
		DeviceName:          device.DeviceName,
		LastSyncAt:          device.LastSyncAt,
		PendingChangesCount: pending,
		ServerTimestamp:     s.now().UTC(),
	}, nil
}

func (s *SyncService) applyItem(ctx context.Context, device *model.Device, item model.PushItem) model.PushItemResult {
	result := model.PushItemResult{
		EntityType: item.EntityType,
		EntityID:   item.EntityID,
	}

	if _, ok := store.LookupEntityType(item.EntityType); !ok {
		result.Status = model.StatusRejected
		result.Error = fmt.Sprintf("unknown entity type %q", item.EntityType)
		return result
	}

	switch item.Operation {
	case model.OpCreate:
		s.applyCreate(ctx, item, &result)
	case model.OpUpdate:
		if item.Version == 0 {
			// The server has never seen this entity; treat as a create.
			s.applyCreate(ctx, item, &result)
		} else {
			s.applyUpdate(ctx, item, &result)
		}
	case model.OpDelete:
		s.applyDelete(ctx, item, &result)
	default:
		result.Status = model.StatusRejected
		result.Error = fmt.Sprintf("unknown operation %q", item.Operation)
	}

	if result.Status == model.StatusApplied {
		logs := store.NewSyncLogStore(s.db)
		if err := logs.Append(ctx, device.ID, item.EntityType, item.EntityID, item.Operation); err != nil {
			slog.Warn("sync log append failed", "device_id", device.DeviceID, "error", err)
		}
	}
	return result
}

func (s *SyncService) applyCreate(ctx context.Context, item model.PushItem, result *model.PushItemResult) {
	if item.EntityID > 0 {
		existing, err := s.entities.Get(ctx, item.EntityType, item.EntityID)
		switch {
		case err == nil:
			// The id is already taken; the server row is authoritative.
			s.conflict(result, item.EntityType, existing)
			return
		case !errors.Is(err, store.ErrNotFound):
			result.Status = model.StatusRejected
			result.Error = err.Error()
			return
		}
	}

	row, err := s.entities.Create(ctx, item.EntityType, item.EntityID, item.Fields)
	switch {
	case err == nil:
		result.EntityID = row.ID
		result.Status = model.StatusApplied
	case errors.Is(err, store.ErrConflict):
		// Lost an insert race for the id between the check above and the
		// insert itself.
		s.serverWins(ctx, item, result)
	default:
		result.Status = model.StatusRejected
		result.Error = err.Error()
	}
}

func (s *SyncService) applyUpdate(ctx context.Context, item model.PushItem, result *model.PushItemResult) {
	_, err := s.entities.Update(ctx, item.EntityType, item.EntityID, item.Fields, item.Version, false)
	switch {
	case err == nil:
		result.Status = model.StatusApplied
	case errors.Is(err, store.ErrConflict):
		s.serverWins(ctx, item, result)
	case errors.Is(err, store.ErrNotFound):
		result.Status = model.StatusNotFound
		result.Error = "entity not found"
	default:
		result.Status = model.StatusRejected
		result.Error = err.Error()
	}
}

func (s *SyncService) applyDelete(ctx context.Context, item model.PushItem, result *model.PushItemResult) {
	current, err := s.entities.Get(ctx, item.EntityType, item.EntityID)
	if errors.Is(err, store.ErrNotFound) {
		// Nothing to delete; the tombstone may already have been vacuumed.
		result.Status = model.StatusApplied
		return
	}
	if err != nil {
		result.Status = model.StatusRejected
		result.Error = err.Error()
		return
	}
	if current.Deleted() {
		result.Status = model.StatusApplied
		return
	}

	_, err = s.entities.SoftDelete(ctx, item.EntityType, item.EntityID, item.Version, false)
	switch {
	case err == nil:
		result.Status = model.StatusApplied
	case errors.Is(err, store.ErrConflict):
		s.serverWins(ctx, item, result)
	case errors.Is(err, store.ErrNotFound):
		result.Status = model.StatusApplied
	default:
		result.Status = model.StatusRejected
		result.Error = err.Error()
	}
}

// serverWins loads the authoritative row and reports it in the conflict
// entry so the device can replace its local copy.
func (s *SyncService) serverWins(ctx context.Context, item model.PushItem, result *model.PushItemResult) {
	current, err := s.entities.Get(ctx, item.EntityType, item.EntityID)
	if err != nil {
		result.Status = model.StatusRejected
		result.Error = err.Error()
		return
	}
	s.conflict(result, item.EntityType, current)
}

func (s *SyncService) conflict(result *model.PushItemResult, entityType string, row *model.EntityRow) {
	// Passing the row's own creation time makes the wire operation an
	// update (or delete for tombstones), which is how the device should
	// apply the authoritative copy.
	change := changeFromRow(entityType, row, row.CreatedAt)
	result.Status = model.StatusConflict
	result.Server = &change
}

// changeFromRow maps a stored row to its wire form. Tombstones carry no
// fields; a row created after since is a create from the device's point of
// view, anything else an update.
func changeFromRow(entityType string, row *model.EntityRow, since time.Time) model.EntityChange {
	change := model.EntityChange{
		EntityType: entityType,
		EntityID:   row.ID,
		Version:    row.Version,
		UpdatedAt:  row.UpdatedAt,
	}
	switch {
	case row.Deleted():
		change.Operation = model.OpDelete
	case row.CreatedAt.After(since):
		change.Operation = model.OpCreate
		change.Fields = row.Fields
	default:
		change.Operation = model.OpUpdate
		change.Fields = row.Fields
	}
	return change
}
