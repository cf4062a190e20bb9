package handler

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/storymaster/storymaster-sync/internal/model"
)

const serverVersion = "1.0.0"

// HealthHandler serves the server identity payload at the root.
type HealthHandler struct {
	db *sql.DB
}

func NewHealthHandler(db *sql.DB) *HealthHandler {
	return &HealthHandler{db: db}
}

// HandleHealth handles GET / requests.
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, model.HealthResponse{
		Status:            "ok",
		Timestamp:         time.Now().UTC(),
		DatabaseConnected: h.db.PingContext(r.Context()) == nil,
		Version:           serverVersion,
	})
}
