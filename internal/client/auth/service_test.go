package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/scorekeeper/internal/client/storage/boltdb"
	"github.com/iudanet/scorekeeper/internal/models"
	"github.com/iudanet/scorekeeper/pkg/api"
)

var testNow = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

// fakeEnrollClient запоминает запросы и отвечает как сервер
type fakeEnrollClient struct {
	err      error
	requests []api.EnrollRequest
}

func (f *fakeEnrollClient) Enroll(_ context.Context, req api.EnrollRequest) (*api.EnrollResponse, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return &api.EnrollResponse{
		DeviceID:  req.DeviceID,
		Role:      req.Role,
		Token:     "token-" + req.Name,
		ExpiresAt: testNow.Add(24 * time.Hour),
	}, nil
}

func setupService(t *testing.T, client EnrollClient) (*DeviceService, *boltdb.Storage) {
	t.Helper()

	store, err := boltdb.New(context.Background(), filepath.Join(t.TempDir(), "client.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	svc := NewService(client, store, slog.New(slog.NewTextHandler(io.Discard, nil)))
	svc.now = func() time.Time { return testNow }
	return svc, store
}

func TestDeviceService_Enroll(t *testing.T) {
	ctx := context.Background()
	client := &fakeEnrollClient{}
	svc, store := setupService(t, client)

	identity, err := svc.Enroll(ctx, EnrollParams{
		Name:       "marshal-1",
		Role:       models.RoleOfficial,
		Secret:     "correct-horse",
		EnrollCode: "course-2026",
		ServerURL:  "https://scores.example.com/",
	})
	require.NoError(t, err)

	deviceID, err := store.DeviceID(ctx)
	require.NoError(t, err)

	require.Len(t, client.requests, 1)
	assert.Equal(t, deviceID, client.requests[0].DeviceID)
	assert.Equal(t, "course-2026", client.requests[0].EnrollCode)

	assert.Equal(t, deviceID, identity.DeviceID)
	assert.Equal(t, models.RoleOfficial, identity.Role)
	assert.Equal(t, "token-marshal-1", identity.Token)
	assert.Equal(t, "https://scores.example.com", identity.ServerURL)

	stored, err := svc.Identity(ctx)
	require.NoError(t, err)
	assert.Equal(t, identity, stored)
}

func TestDeviceService_EnrollValidation(t *testing.T) {
	tests := []struct {
		params EnrollParams
		name   string
	}{
		{name: "bad name", params: EnrollParams{Name: "a b", Role: models.RoleRecorder, Secret: "long-enough"}},
		{name: "bad role", params: EnrollParams{Name: "cart-1", Role: "caddie", Secret: "long-enough"}},
		{name: "short secret", params: EnrollParams{Name: "cart-1", Role: models.RoleRecorder, Secret: "short"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &fakeEnrollClient{}
			svc, _ := setupService(t, client)

			_, err := svc.Enroll(context.Background(), tt.params)
			require.Error(t, err)
			assert.Empty(t, client.requests)
		})
	}
}

func TestDeviceService_EnrollServerError(t *testing.T) {
	ctx := context.Background()
	svc, _ := setupService(t, &fakeEnrollClient{err: errors.New("device name already taken")})

	_, err := svc.Enroll(ctx, EnrollParams{Name: "cart-1", Role: models.RoleRecorder, Secret: "long-enough"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already taken")

	_, err = svc.Identity(ctx)
	assert.ErrorIs(t, err, ErrNotEnrolled)
}

func TestDeviceService_Session(t *testing.T) {
	ctx := context.Background()
	svc, store := setupService(t, &fakeEnrollClient{})

	_, err := svc.Session(ctx, "http://localhost:8080")
	assert.ErrorIs(t, err, ErrNotEnrolled)

	_, err = svc.Enroll(ctx, EnrollParams{Name: "cart-1", Role: models.RoleRecorder, Secret: "long-enough", ServerURL: "http://localhost:8080"})
	require.NoError(t, err)

	identity, err := svc.Session(ctx, "http://localhost:8080/")
	require.NoError(t, err)
	assert.Equal(t, "token-cart-1", identity.Token)

	_, err = svc.Session(ctx, "https://other.example.com")
	assert.ErrorIs(t, err, ErrServerMismatch)

	svc.now = func() time.Time { return testNow.Add(48 * time.Hour) }
	_, err = svc.Session(ctx, "http://localhost:8080")
	assert.ErrorIs(t, err, ErrTokenExpired)

	require.NoError(t, svc.Forget(ctx))
	_, err = store.GetIdentity(ctx)
	assert.Error(t, err)
}
