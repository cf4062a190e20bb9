package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/storymaster/storymaster-sync/internal/model"
	"github.com/storymaster/storymaster-sync/internal/service"
)

// DeviceHandler handles the desktop GUI's device management endpoints.
type DeviceHandler struct {
	service *service.PairingService
}

func NewDeviceHandler(svc *service.PairingService) *DeviceHandler {
	return &DeviceHandler{service: svc}
}

// HandleList handles GET /api/devices requests.
func (h *DeviceHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	devices, err := h.service.ListDevices(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse("internal server error"))
		return
	}

	writeJSON(w, http.StatusOK, map[string][]model.DeviceResponse{"devices": devices})
}

// HandleRemove handles DELETE /api/devices/{device_id} requests.
func (h *DeviceHandler) HandleRemove(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "device_id")
	if deviceID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid device id"))
		return
	}

	if err := h.service.RevokeDevice(r.Context(), deviceID); err != nil {
		if errors.Is(err, service.ErrDeviceNotFound) {
			writeJSON(w, http.StatusNotFound, errorResponse(err.Error()))
			return
		}
		writeJSON(w, http.StatusInternalServerError, errorResponse("internal server error"))
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message":   "Device removed successfully",
		"device_id": deviceID,
	})
}
