package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/iudanet/scorekeeper/internal/models"
	"github.com/iudanet/scorekeeper/internal/server/storage"
)

// CreateDevice stores a new device
func (s *Storage) CreateDevice(ctx context.Context, device *models.Device) error {
	query := `
		INSERT INTO devices (id, name, role, secret_hash, created_at)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, s.rebind(query),
		device.ID,
		device.Name,
		string(device.Role),
		device.SecretHash,
		device.CreatedAt.UnixNano(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrDeviceAlreadyExists
		}
		return fmt.Errorf("failed to insert device: %w", err)
	}

	return nil
}

// GetDevice retrieves device by ID
func (s *Storage) GetDevice(ctx context.Context, id string) (*models.Device, error) {
	query := `
		SELECT id, name, role, secret_hash, created_at
		FROM devices
		WHERE id = ?
	`

	device := &models.Device{}
	var role string
	var createdAt int64

	err := s.db.QueryRowContext(ctx, s.rebind(query), id).Scan(
		&device.ID,
		&device.Name,
		&role,
		&device.SecretHash,
		&createdAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrDeviceNotFound
		}
		return nil, fmt.Errorf("failed to get device: %w", err)
	}

	device.Role = models.Role(role)
	device.CreatedAt = time.Unix(0, createdAt).UTC()

	return device, nil
}

// isUniqueViolation распознает нарушение уникальности в обоих диалектах
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
