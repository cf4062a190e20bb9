// Package server assembles the HTTP surface and owns the listener
// lifecycle, so a host process can start and stop syncing without
// exiting.
package server

import (
	"database/sql"

	"github.com/go-chi/chi/v5"

	"github.com/storymaster/storymaster-sync/internal/handler"
	"github.com/storymaster/storymaster-sync/internal/middleware"
	"github.com/storymaster/storymaster-sync/internal/service"
)

// NewRouter wires every endpoint. Pairing redemption is rate limited per
// IP; everything under /api/sync requires a paired device's Bearer token.
func NewRouter(db *sql.DB, pairing *service.PairingService, sync *service.SyncService) chi.Router {
	healthHandler := handler.NewHealthHandler(db)
	pairingHandler := handler.NewPairingHandler(pairing)
	deviceHandler := handler.NewDeviceHandler(pairing)
	syncHandler := handler.NewSyncHandler(sync)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)

	r.Get("/", healthHandler.HandleHealth)

	r.Post("/api/pair/token", pairingHandler.HandleIssueToken)
	r.Get("/api/pair/qr-image", pairingHandler.HandleQRImage)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RateLimit(5, 10))
		r.Post("/api/pair/redeem", pairingHandler.HandleRedeem)
	})

	r.Get("/api/devices", deviceHandler.HandleList)
	r.Delete("/api/devices/{device_id}", deviceHandler.HandleRemove)

	r.Group(func(r chi.Router) {
		r.Use(middleware.DeviceAuth(pairing))
		r.Get("/api/sync/pull", syncHandler.HandlePull)
		r.Post("/api/sync/push", syncHandler.HandlePush)
		r.Post("/api/sync/ack", syncHandler.HandleAck)
		r.Get("/api/sync/status", syncHandler.HandleStatus)
	})

	return r
}
