package model

import "time"

// Sync operations carried in push/pull batches.
const (
	OpCreate = "create"
	OpUpdate = "update"
	OpDelete = "delete"
)

// Push item outcomes reported per entry in a push response.
const (
	StatusApplied  = "applied"
	StatusConflict = "conflict"
	StatusNotFound = "not_found"
	StatusRejected = "rejected"
)

// EntityRow is a synchronizable row as persisted: domain fields plus the
// sync-tracking columns every entity table carries. The store adapter is the
// only writer of Version and the timestamps.
type EntityRow struct {
	ID        int64
	Fields    map[string]any
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}

// Deleted reports whether the row is a tombstone.
func (r *EntityRow) Deleted() bool { return r.DeletedAt != nil }

// EntityChange is one entity mutation on the wire. Fields is nil for
// deletes; Version is the row version after the change on the server side.
type EntityChange struct {
	EntityType string         `json:"entity_type"`
	EntityID   int64          `json:"entity_id"`
	Operation  string         `json:"operation"`
	Fields     map[string]any `json:"fields,omitempty"`
	Version    int64          `json:"version"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// PushItem is one mutation a device made offline. Version is the entity
// version as last known by the device; 0 or absent means the device created
// the entity itself.
type PushItem struct {
	EntityType string         `json:"entity_type"`
	EntityID   int64          `json:"entity_id"`
	Operation  string         `json:"operation"`
	Version    int64          `json:"version"`
	Fields     map[string]any `json:"fields,omitempty"`
}

// PushRequest is a batch of device-side mutations.
type PushRequest struct {
	Changes []PushItem `json:"changes"`
}

// PushItemResult reports the outcome of a single push item. On a conflict,
// Server carries the authoritative server row so the device can replace its
// local copy (whole-row, server-wins).
type PushItemResult struct {
	EntityType string        `json:"entity_type"`
	EntityID   int64         `json:"entity_id"`
	Status     string        `json:"status"`
	Error      string        `json:"error,omitempty"`
	Server     *EntityChange `json:"server,omitempty"`
}

// PushResponse summarizes a processed push batch.
type PushResponse struct {
	Accepted  int              `json:"accepted"`
	Conflicts int              `json:"conflicts"`
	Rejected  int              `json:"rejected"`
	Results   []PushItemResult `json:"results"`
	Message   string           `json:"message"`
}

// PullResponse is the batch of server-side changes since the requested
// timestamp, in updated_at order. SyncTimestamp is the value the device
// must acknowledge to advance its cursor; HasMore signals a truncated
// batch the device should follow up after acknowledging.
type PullResponse struct {
	Changes       []EntityChange `json:"changes"`
	SyncTimestamp time.Time      `json:"sync_timestamp"`
	HasMore       bool           `json:"has_more"`
}

// AckRequest confirms that a pulled batch has been stored on the device.
type AckRequest struct {
	SyncTimestamp time.Time `json:"sync_timestamp"`
}

// SyncStatusResponse reports per-device sync state for the GUI dialog.
type SyncStatusResponse struct {
	DeviceID            string     `json:"device_id"`
	DeviceName          string     `json:"device_name"`
	LastSyncAt          *time.Time `json:"last_sync_at"`
	PendingChangesCount int64      `json:"pending_changes_count"`
	ServerTimestamp     time.Time  `json:"server_timestamp"`
}
