package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// pairingTokenBytes gives 256 bits of entropy; the URL-safe encoding keeps
// the token scannable inside a QR payload.
const pairingTokenBytes = 32

// NewPairingToken creates a cryptographically random, unguessable token.
func NewPairingToken() (string, error) {
	b := make([]byte, pairingTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating pairing token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
