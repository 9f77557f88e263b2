// Package auth регистрирует устройство на сервере и хранит его токен.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/iudanet/scorekeeper/internal/client/storage"
	"github.com/iudanet/scorekeeper/internal/models"
	"github.com/iudanet/scorekeeper/internal/validation"
	"github.com/iudanet/scorekeeper/pkg/api"
)

// Ошибки сессии устройства
var (
	ErrNotEnrolled    = errors.New("device is not enrolled")
	ErrTokenExpired   = errors.New("device token has expired")
	ErrServerMismatch = errors.New("device was enrolled on another server")
)

const minSecretLength = 8

// EnrollClient часть API клиента, нужная для регистрации
type EnrollClient interface {
	Enroll(ctx context.Context, req api.EnrollRequest) (*api.EnrollResponse, error)
}

// IdentityStore хранилище идентичности устройства
type IdentityStore interface {
	storage.IdentityStorage
	DeviceID(ctx context.Context) (string, error)
}

// EnrollParams параметры регистрации устройства
type EnrollParams struct {
	Name       string
	Role       models.Role
	Secret     string
	EnrollCode string // нужен для official и system
	ServerURL  string
}

// DeviceService реализует Service поверх API клиента и локального хранилища
type DeviceService struct {
	client EnrollClient
	store  IdentityStore
	logger *slog.Logger
	now    func() time.Time
}

var _ Service = (*DeviceService)(nil)

// NewService создает сервис регистрации устройства
func NewService(client EnrollClient, store IdentityStore, logger *slog.Logger) *DeviceService {
	return &DeviceService{
		client: client,
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// Enroll регистрирует устройство и сохраняет токен
func (s *DeviceService) Enroll(ctx context.Context, p EnrollParams) (*models.DeviceIdentity, error) {
	if err := validation.ValidateDeviceName(p.Name); err != nil {
		return nil, fmt.Errorf("invalid device name: %w", err)
	}
	if !p.Role.Valid() {
		return nil, fmt.Errorf("invalid role %q", p.Role)
	}
	if len(p.Secret) < minSecretLength {
		return nil, fmt.Errorf("secret must be at least %d characters", minSecretLength)
	}

	deviceID, err := s.store.DeviceID(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.Enroll(ctx, api.EnrollRequest{
		DeviceID:   deviceID,
		Name:       p.Name,
		Role:       string(p.Role),
		Secret:     p.Secret,
		EnrollCode: p.EnrollCode,
	})
	if err != nil {
		return nil, fmt.Errorf("enrollment failed: %w", err)
	}
	if resp.DeviceID != deviceID {
		return nil, fmt.Errorf("server returned token for device %s, expected %s", resp.DeviceID, deviceID)
	}

	identity := &models.DeviceIdentity{
		DeviceID:  deviceID,
		Name:      p.Name,
		Role:      models.Role(resp.Role),
		Token:     resp.Token,
		ExpiresAt: resp.ExpiresAt,
		ServerURL: normalizeURL(p.ServerURL),
	}
	if err := s.store.SaveIdentity(ctx, identity); err != nil {
		return nil, fmt.Errorf("failed to save identity: %w", err)
	}

	s.logger.Info("Device enrolled", "device_id", deviceID, "role", identity.Role)
	return identity, nil
}

// Identity возвращает сохраненные данные регистрации
func (s *DeviceService) Identity(ctx context.Context) (*models.DeviceIdentity, error) {
	identity, err := s.store.GetIdentity(ctx)
	if errors.Is(err, storage.ErrIdentityNotFound) {
		return nil, ErrNotEnrolled
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get identity: %w", err)
	}
	return identity, nil
}

// Session проверяет, что сохраненный токен пригоден для serverURL
func (s *DeviceService) Session(ctx context.Context, serverURL string) (*models.DeviceIdentity, error) {
	identity, err := s.Identity(ctx)
	if err != nil {
		return nil, err
	}
	if identity.ServerURL != "" && identity.ServerURL != normalizeURL(serverURL) {
		return nil, fmt.Errorf("%w: %s", ErrServerMismatch, identity.ServerURL)
	}
	if !identity.ExpiresAt.IsZero() && !s.now().Before(identity.ExpiresAt) {
		return nil, ErrTokenExpired
	}
	return identity, nil
}

// Forget удаляет данные регистрации
func (s *DeviceService) Forget(ctx context.Context) error {
	if err := s.store.DeleteIdentity(ctx); err != nil {
		return fmt.Errorf("failed to delete identity: %w", err)
	}
	return nil
}

func normalizeURL(u string) string {
	return strings.TrimRight(u, "/")
}
