package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"time"

	"github.com/storymaster/storymaster-sync/internal/crypto"
	"github.com/storymaster/storymaster-sync/internal/dbx"
	"github.com/storymaster/storymaster-sync/internal/model"
	"github.com/storymaster/storymaster-sync/internal/store"
)

var (
	ErrInvalidPairingToken = errors.New("invalid or already used pairing token")
	ErrPairingTokenExpired = errors.New("pairing token expired")
	ErrAuthentication      = errors.New("invalid authentication token")
	ErrDeviceIDRequired    = errors.New("device_id is required")
	ErrDeviceNameRequired  = errors.New("device_name is required")
	ErrDeviceNotFound      = errors.New("device not found")
)

// PairingService issues short-lived pairing tokens, exchanges them for
// long-lived device auth tokens, and authenticates devices on every sync
// request.
type PairingService struct {
	db          *sql.DB
	secret      string
	defaultTTL  time.Duration
	authExpiry  time.Duration
	advertiseIP func() string
	port        int
	now         func() time.Time
}

func NewPairingService(db *sql.DB, secret string, defaultTTL, authExpiry time.Duration, port int) *PairingService {
	return &PairingService{
		db:          db,
		secret:      secret,
		defaultTTL:  defaultTTL,
		authExpiry:  authExpiry,
		advertiseIP: localIP,
		port:        port,
		now:         time.Now,
	}
}

// IssueToken creates a pairing token valid for ttl (the configured default
// when ttl <= 0) and returns it with the QR payload the desktop renders.
func (s *PairingService) IssueToken(ctx context.Context, ttl time.Duration) (model.PairingIssueResponse, error) {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}

	value, err := crypto.NewPairingToken()
	if err != nil {
		return model.PairingIssueResponse{}, err
	}

	token, err := store.NewPairingTokenStore(s.db).Create(ctx, value, s.now().Add(ttl))
	if err != nil {
		return model.PairingIssueResponse{}, err
	}

	return s.issueResponse(token), nil
}

// CurrentToken returns the newest unconsumed, unexpired pairing token,
// issuing a fresh one only when none exists. The GUI polls the QR image, so
// reusing the live token avoids littering the table.
func (s *PairingService) CurrentToken(ctx context.Context) (model.PairingIssueResponse, error) {
	token, err := store.NewPairingTokenStore(s.db).LatestActive(ctx, s.now())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return s.IssueToken(ctx, 0)
		}
		return model.PairingIssueResponse{}, err
	}
	return s.issueResponse(token), nil
}

func (s *PairingService) issueResponse(token *model.PairingToken) model.PairingIssueResponse {
	payload, _ := json.Marshal(map[string]any{
		"host":  s.advertiseIP(),
		"port":  s.port,
		"token": token.Token,
	})
	return model.PairingIssueResponse{
		Token:     token.Token,
		ExpiresAt: token.ExpiresAt,
		URI:       string(payload),
	}
}

// Redeem exchanges a pairing token for a device auth token. Consumption of
// the token and creation (or reactivation) of the device happen in one
// transaction: they succeed or fail together.
func (s *PairingService) Redeem(ctx context.Context, req model.PairRequest) (model.PairResponse, error) {
	if req.DeviceID == "" {
		return model.PairResponse{}, ErrDeviceIDRequired
	}
	if req.DeviceName == "" {
		return model.PairResponse{}, ErrDeviceNameRequired
	}

	authToken, err := crypto.GenerateDeviceToken(req.DeviceID, s.secret, s.authExpiry)
	if err != nil {
		return model.PairResponse{}, err
	}

	var reactivated bool
	err = dbx.WithTx(ctx, s.db, func(ctx context.Context, tx dbx.DBTX) error {
		tokens := store.NewPairingTokenStore(tx)
		devices := store.NewDeviceStore(tx)

		token, err := tokens.GetByToken(ctx, req.Token)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrInvalidPairingToken
			}
			return err
		}
		// Expiry outranks consumption state for error reporting.
		if s.now().After(token.ExpiresAt) {
			return ErrPairingTokenExpired
		}
		if token.Consumed() {
			return ErrInvalidPairingToken
		}
		if err := tokens.Consume(ctx, token.ID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrInvalidPairingToken
			}
			return err
		}

		_, err = devices.GetByDeviceID(ctx, req.DeviceID)
		switch {
		case err == nil:
			// Known device pairing again: rotate its token rather than
			// handing the old one back, in case the old device was lost.
			reactivated = true
			return devices.Reactivate(ctx, req.DeviceID, req.DeviceName, authToken)
		case errors.Is(err, store.ErrNotFound):
			device := &model.Device{
				DeviceID:   req.DeviceID,
				DeviceName: req.DeviceName,
				AuthToken:  authToken,
			}
			return devices.Create(ctx, device)
		default:
			return err
		}
	})
	if err != nil {
		return model.PairResponse{}, err
	}

	message := "Device paired successfully"
	if reactivated {
		message = "Device re-paired successfully"
	}
	slog.Info("device paired", "device_id", req.DeviceID, "device_name", req.DeviceName, "reactivated", reactivated)

	return model.PairResponse{
		DeviceID:   req.DeviceID,
		DeviceName: req.DeviceName,
		AuthToken:  authToken,
		Message:    message,
	}, nil
}

// Authenticate resolves an auth token to an active device. The signature
// check alone is not enough: the token must still match the stored one
// (rotation invalidates older tokens) and the device must not be revoked.
func (s *PairingService) Authenticate(ctx context.Context, authToken string) (*model.Device, error) {
	claims, err := crypto.ValidateDeviceToken(authToken, s.secret)
	if err != nil {
		return nil, ErrAuthentication
	}

	device, err := store.NewDeviceStore(s.db).GetByDeviceID(ctx, claims.DeviceID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrAuthentication
		}
		return nil, err
	}
	if !device.IsActive || device.AuthToken != authToken {
		return nil, ErrAuthentication
	}
	return device, nil
}

// ListDevices returns active devices for the management dialog.
func (s *PairingService) ListDevices(ctx context.Context) ([]model.DeviceResponse, error) {
	devices, err := store.NewDeviceStore(s.db).List(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]model.DeviceResponse, 0, len(devices))
	for _, d := range devices {
		out = append(out, model.DeviceResponse{
			ID:         d.ID,
			DeviceID:   d.DeviceID,
			DeviceName: d.DeviceName,
			LastSyncAt: d.LastSyncAt,
			CreatedAt:  d.CreatedAt,
		})
	}
	return out, nil
}

// RevokeDevice deactivates a device; its sync_log history is retained.
func (s *PairingService) RevokeDevice(ctx context.Context, deviceID string) error {
	err := store.NewDeviceStore(s.db).Deactivate(ctx, deviceID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrDeviceNotFound
	}
	if err == nil {
		slog.Info("device revoked", "device_id", deviceID)
	}
	return err
}

// localIP discovers the LAN address mobile devices should connect to. The
// UDP dial never sends a packet; it only asks the kernel for a route.
func localIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()

	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return "127.0.0.1"
	}
	return addr.IP.String()
}
