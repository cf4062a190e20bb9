package handler

import (
	"errors"
	"net/http"
	"time"

	qrcode "github.com/skip2/go-qrcode"

	"github.com/storymaster/storymaster-sync/internal/model"
	"github.com/storymaster/storymaster-sync/internal/service"
)

// PairingHandler handles HTTP requests for device pairing.
type PairingHandler struct {
	service *service.PairingService
}

func NewPairingHandler(svc *service.PairingService) *PairingHandler {
	return &PairingHandler{service: svc}
}

type issueTokenRequest struct {
	TTLSeconds int `json:"ttl_seconds"`
}

// HandleIssueToken handles POST /api/pair/token requests. Desktop-only:
// called by the GUI when it opens the pairing dialog.
func (h *PairingHandler) HandleIssueToken(w http.ResponseWriter, r *http.Request) {
	var req issueTokenRequest
	if r.ContentLength > 0 {
		if !decodeBody(w, r, 1<<20, &req) {
			return
		}
	}

	resp, err := h.service.IssueToken(r.Context(), time.Duration(req.TTLSeconds)*time.Second)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse("internal server error"))
		return
	}

	writeJSON(w, http.StatusCreated, resp)
}

// HandleQRImage handles GET /api/pair/qr-image requests, rendering the
// current pairing token as a scannable PNG.
func (h *PairingHandler) HandleQRImage(w http.ResponseWriter, r *http.Request) {
	issue, err := h.service.CurrentToken(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse("internal server error"))
		return
	}

	png, err := qrcode.Encode(issue.URI, qrcode.Medium, 256)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse("internal server error"))
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}

// HandleRedeem handles POST /api/pair/redeem requests from the mobile app
// after it scans the QR code.
func (h *PairingHandler) HandleRedeem(w http.ResponseWriter, r *http.Request) {
	var req model.PairRequest
	if !decodeBody(w, r, 1<<20, &req) {
		return
	}

	resp, err := h.service.Redeem(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrDeviceIDRequired), errors.Is(err, service.ErrDeviceNameRequired):
			writeJSON(w, http.StatusBadRequest, errorResponse(err.Error()))
		case errors.Is(err, service.ErrPairingTokenExpired):
			writeJSON(w, http.StatusGone, errorResponse(err.Error()))
		case errors.Is(err, service.ErrInvalidPairingToken):
			writeJSON(w, http.StatusUnauthorized, errorResponse(err.Error()))
		default:
			writeJSON(w, http.StatusInternalServerError, errorResponse("internal server error"))
		}
		return
	}

	writeJSON(w, http.StatusOK, resp)
}
