package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/storymaster/storymaster-sync/internal/middleware"
	"github.com/storymaster/storymaster-sync/internal/model"
	"github.com/storymaster/storymaster-sync/internal/service"
	"github.com/storymaster/storymaster-sync/internal/store"
)

// SyncHandler handles the device-authenticated push/pull endpoints.
type SyncHandler struct {
	service *service.SyncService
}

func NewSyncHandler(svc *service.SyncService) *SyncHandler {
	return &SyncHandler{service: svc}
}

// HandlePull handles GET /api/sync/pull requests. The since query parameter
// is RFC 3339; absent means a full sync. types optionally narrows the pull
// to a comma-separated list of entity types.
func (h *SyncHandler) HandlePull(w http.ResponseWriter, r *http.Request) {
	device, ok := middleware.DeviceFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse("unauthorized"))
		return
	}

	var since time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse("invalid since timestamp"))
			return
		}
		since = parsed
	}

	var entityTypes []string
	if raw := r.URL.Query().Get("types"); raw != "" {
		entityTypes = strings.Split(raw, ",")
	}

	resp, err := h.service.Pull(r.Context(), device, since, entityTypes)
	if err != nil {
		if errors.Is(err, store.ErrValidation) {
			writeJSON(w, http.StatusBadRequest, errorResponse(err.Error()))
			return
		}
		writeJSON(w, http.StatusInternalServerError, errorResponse("internal server error"))
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// HandlePush handles POST /api/sync/push requests.
func (h *SyncHandler) HandlePush(w http.ResponseWriter, r *http.Request) {
	device, ok := middleware.DeviceFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse("unauthorized"))
		return
	}

	var req model.PushRequest
	if !decodeBody(w, r, 10<<20, &req) {
		return
	}

	resp, err := h.service.Push(r.Context(), device, req.Changes)
	if err != nil {
		if errors.Is(err, service.ErrBatchTooLarge) {
			writeJSON(w, http.StatusBadRequest, errorResponse(err.Error()))
			return
		}
		writeJSON(w, http.StatusInternalServerError, errorResponse("internal server error"))
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// HandleAck handles POST /api/sync/ack requests, confirming receipt of a
// pulled batch and advancing the device's sync cursor.
func (h *SyncHandler) HandleAck(w http.ResponseWriter, r *http.Request) {
	device, ok := middleware.DeviceFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse("unauthorized"))
		return
	}

	var req model.AckRequest
	if !decodeBody(w, r, 1<<20, &req) {
		return
	}

	if err := h.service.Acknowledge(r.Context(), device, req.SyncTimestamp); err != nil {
		if errors.Is(err, service.ErrBadTimestamp) {
			writeJSON(w, http.StatusBadRequest, errorResponse(err.Error()))
			return
		}
		writeJSON(w, http.StatusInternalServerError, errorResponse("internal server error"))
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "acknowledged"})
}

// HandleStatus handles GET /api/sync/status requests.
func (h *SyncHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	device, ok := middleware.DeviceFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse("unauthorized"))
		return
	}

	resp, err := h.service.Status(r.Context(), device)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse("internal server error"))
		return
	}

	writeJSON(w, http.StatusOK, resp)
}
