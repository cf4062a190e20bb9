package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storymaster/storymaster-sync/internal/model"
	"github.com/storymaster/storymaster-sync/internal/store"
)

func TestIssueToken(t *testing.T) {
	db := testDB(t)
	svc := newTestPairingService(db)
	ctx := context.Background()

	resp, err := svc.IssueToken(ctx, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Token)
	assert.WithinDuration(t, time.Now().Add(5*time.Minute), resp.ExpiresAt, 5*time.Second)

	var payload struct {
		Host  string `json:"host"`
		Port  int    `json:"port"`
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal([]byte(resp.URI), &payload))
	assert.NotEmpty(t, payload.Host)
	assert.Equal(t, 8765, payload.Port)
	assert.Equal(t, resp.Token, payload.Token)
}

func TestCurrentTokenReusesLiveToken(t *testing.T) {
	db := testDB(t)
	svc := newTestPairingService(db)
	ctx := context.Background()

	issued, err := svc.IssueToken(ctx, 0)
	require.NoError(t, err)

	current, err := svc.CurrentToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, issued.Token, current.Token)
}

func TestCurrentTokenIssuesWhenNoneLive(t *testing.T) {
	db := testDB(t)
	svc := newTestPairingService(db)

	current, err := svc.CurrentToken(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, current.Token)
}

func TestRedeem(t *testing.T) {
	db := testDB(t)
	svc := newTestPairingService(db)
	ctx := context.Background()

	issued, err := svc.IssueToken(ctx, 0)
	require.NoError(t, err)

	resp, err := svc.Redeem(ctx, model.PairRequest{
		Token:      issued.Token,
		DeviceID:   "phone-1",
		DeviceName: "My Phone",
	})
	require.NoError(t, err)
	assert.Equal(t, "phone-1", resp.DeviceID)
	assert.NotEmpty(t, resp.AuthToken)

	device, err := svc.Authenticate(ctx, resp.AuthToken)
	require.NoError(t, err)
	assert.Equal(t, "phone-1", device.DeviceID)
	assert.Equal(t, int64(1), device.Version)
	assert.True(t, device.IsActive)
}

func TestRedeemTokenIsSingleUse(t *testing.T) {
	db := testDB(t)
	svc := newTestPairingService(db)
	ctx := context.Background()

	issued, err := svc.IssueToken(ctx, 0)
	require.NoError(t, err)

	_, err = svc.Redeem(ctx, model.PairRequest{Token: issued.Token, DeviceID: "a", DeviceName: "A"})
	require.NoError(t, err)

	_, err = svc.Redeem(ctx, model.PairRequest{Token: issued.Token, DeviceID: "b", DeviceName: "B"})
	assert.ErrorIs(t, err, ErrInvalidPairingToken)
}

func TestRedeemUnknownToken(t *testing.T) {
	db := testDB(t)
	svc := newTestPairingService(db)

	_, err := svc.Redeem(context.Background(), model.PairRequest{
		Token: "never-issued", DeviceID: "a", DeviceName: "A",
	})
	assert.ErrorIs(t, err, ErrInvalidPairingToken)
}

func TestRedeemExpiredToken(t *testing.T) {
	db := testDB(t)
	svc := newTestPairingService(db)
	ctx := context.Background()

	expired, err := store.NewPairingTokenStore(db).Create(ctx, "old-token", time.Now().Add(-time.Minute))
	require.NoError(t, err)

	_, err = svc.Redeem(ctx, model.PairRequest{
		Token: expired.Token, DeviceID: "a", DeviceName: "A",
	})
	assert.ErrorIs(t, err, ErrPairingTokenExpired)

	// An expired token must not be consumed by the failed attempt.
	got, err := store.NewPairingTokenStore(db).GetByToken(ctx, "old-token")
	require.NoError(t, err)
	assert.False(t, got.Consumed())
}

func TestRedeemValidation(t *testing.T) {
	db := testDB(t)
	svc := newTestPairingService(db)
	ctx := context.Background()

	_, err := svc.Redeem(ctx, model.PairRequest{Token: "x", DeviceName: "A"})
	assert.ErrorIs(t, err, ErrDeviceIDRequired)

	_, err = svc.Redeem(ctx, model.PairRequest{Token: "x", DeviceID: "a"})
	assert.ErrorIs(t, err, ErrDeviceNameRequired)
}

func TestRedeemRotatesTokenOnRepair(t *testing.T) {
	db := testDB(t)
	svc := newTestPairingService(db)
	ctx := context.Background()

	first, err := svc.IssueToken(ctx, 0)
	require.NoError(t, err)
	firstResp, err := svc.Redeem(ctx, model.PairRequest{Token: first.Token, DeviceID: "a", DeviceName: "Old Name"})
	require.NoError(t, err)

	second, err := svc.IssueToken(ctx, 0)
	require.NoError(t, err)
	secondResp, err := svc.Redeem(ctx, model.PairRequest{Token: second.Token, DeviceID: "a", DeviceName: "New Name"})
	require.NoError(t, err)
	assert.Equal(t, "Device re-paired successfully", secondResp.Message)

	// The old auth token is dead; only the rotated one authenticates.
	_, err = svc.Authenticate(ctx, firstResp.AuthToken)
	assert.ErrorIs(t, err, ErrAuthentication)

	device, err := svc.Authenticate(ctx, secondResp.AuthToken)
	require.NoError(t, err)
	assert.Equal(t, "New Name", device.DeviceName)
}

func TestAuthenticateRejectsGarbage(t *testing.T) {
	db := testDB(t)
	svc := newTestPairingService(db)

	_, err := svc.Authenticate(context.Background(), "garbage")
	assert.ErrorIs(t, err, ErrAuthentication)
}

func TestRevokeDevice(t *testing.T) {
	db := testDB(t)
	svc := newTestPairingService(db)
	ctx := context.Background()

	issued, err := svc.IssueToken(ctx, 0)
	require.NoError(t, err)
	resp, err := svc.Redeem(ctx, model.PairRequest{Token: issued.Token, DeviceID: "a", DeviceName: "A"})
	require.NoError(t, err)

	require.NoError(t, svc.RevokeDevice(ctx, "a"))

	_, err = svc.Authenticate(ctx, resp.AuthToken)
	assert.ErrorIs(t, err, ErrAuthentication)

	devices, err := svc.ListDevices(ctx)
	require.NoError(t, err)
	assert.Empty(t, devices)
}

func TestRevokeDeviceMissing(t *testing.T) {
	db := testDB(t)
	svc := newTestPairingService(db)

	err := svc.RevokeDevice(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrDeviceNotFound)
}
