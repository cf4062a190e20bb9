package model

import "time"

// Device represents a paired mobile client in the sync_device table.
// Devices are never hard-deleted; revocation clears IsActive so the
// sync_log audit history stays valid.
type Device struct {
	ID         int64
	DeviceID   string
	DeviceName string
	AuthToken  string
	LastSyncAt *time.Time
	IsActive   bool
	Version    int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// PairingToken is a short-lived credential from sync_pairing_tokens.
// Consumption is recorded as a soft delete so a token can be redeemed at
// most once even across server restarts.
type PairingToken struct {
	ID        int64
	Token     string
	ExpiresAt time.Time
	Version   int64
	CreatedAt time.Time
	DeletedAt *time.Time
}

// Consumed reports whether the token has already been redeemed.
func (t *PairingToken) Consumed() bool { return t.DeletedAt != nil }

// PairRequest is the body a mobile device sends after scanning the QR code.
type PairRequest struct {
	Token      string `json:"token"`
	DeviceID   string `json:"device_id"`
	DeviceName string `json:"device_name"`
}

// PairResponse returns the long-lived auth token minted for the device.
type PairResponse struct {
	DeviceID   string `json:"device_id"`
	DeviceName string `json:"device_name"`
	AuthToken  string `json:"auth_token"`
	Message    string `json:"message"`
}

// PairingIssueResponse is returned when the desktop requests a fresh
// pairing token. URI is the JSON payload rendered into the QR code.
type PairingIssueResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	URI       string    `json:"uri"`
}

// DeviceResponse is device data safe for the management dialog (no token).
type DeviceResponse struct {
	ID         int64      `json:"id"`
	DeviceID   string     `json:"device_id"`
	DeviceName string     `json:"device_name"`
	LastSyncAt *time.Time `json:"last_sync_at"`
	CreatedAt  time.Time  `json:"created_at"`
}

// HealthResponse is the server identity payload served at the root.
type HealthResponse struct {
	Status            string    `json:"status"`
	Timestamp         time.Time `json:"timestamp"`
	DatabaseConnected bool      `json:"database_connected"`
	Version           string    `json:"version"`
}
