package crypto

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid or expired token")

// DeviceClaims are the JWT claims carried by a device auth token. The
// signature proves the token was minted by this server; revocation is still
// checked against the sync_device row on every request.
type DeviceClaims struct {
	jwt.RegisteredClaims
	DeviceID string `json:"device_id"`
}

// GenerateDeviceToken creates the long-lived signed token handed to a
// device at pairing time.
func GenerateDeviceToken(deviceID, secret string, expiry time.Duration) (string, error) {
	now := time.Now()
	claims := DeviceClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "storymaster-sync",
			Audience:  jwt.ClaimStrings{"storymaster-mobile"},
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		DeviceID: deviceID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ValidateDeviceToken parses and verifies a device auth token.
func ValidateDeviceToken(tokenString, secret string) (*DeviceClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &DeviceClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return []byte(secret), nil
	}, jwt.WithIssuer("storymaster-sync"), jwt.WithAudience("storymaster-mobile"))
	if err != nil {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*DeviceClaims)
	if !ok || !token.Valid || claims.DeviceID == "" {
		return nil, ErrInvalidToken
	}

	return claims, nil
}
