package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/storymaster/storymaster-sync/internal/model"
	"github.com/storymaster/storymaster-sync/internal/service"
)

type contextKey string

const deviceKey contextKey = "syncDevice"

// DeviceAuth returns middleware that resolves the Bearer token from the
// Authorization header to an active paired device. All sync endpoints sit
// behind this check.
func DeviceAuth(pairing *service.PairingService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeJSONError(w, http.StatusUnauthorized, "missing authorization header")
				return
			}

			token, found := strings.CutPrefix(authHeader, "Bearer ")
			if !found || token == "" {
				writeJSONError(w, http.StatusUnauthorized, "invalid authorization format")
				return
			}

			device, err := pairing.Authenticate(r.Context(), token)
			if err != nil {
				writeJSONError(w, http.StatusUnauthorized, "invalid authentication token")
				return
			}

			ctx := context.WithValue(r.Context(), deviceKey, device)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// DeviceFromContext extracts the authenticated device from the request
// context.
func DeviceFromContext(ctx context.Context) (*model.Device, bool) {
	device, ok := ctx.Value(deviceKey).(*model.Device)
	return device, ok
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
