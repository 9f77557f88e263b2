package storage

import (
	"context"

	"github.com/iudanet/scorekeeper/internal/models"
)

//go:generate moq -out metadata_mock.go . MetadataStorage

// MetadataStorage defines interface for storing client sync metadata
type MetadataStorage interface {
	// SaveCursor saves the remote change feed cursor
	SaveCursor(ctx context.Context, cursor uint64) error

	// GetCursor retrieves the remote change feed cursor
	// Returns 0 if nothing has been pulled yet
	GetCursor(ctx context.Context) (uint64, error)

	// DeviceID returns the stable id of this device, generating it on first call
	DeviceID(ctx context.Context) (string, error)
}

//go:generate moq -out identity_mock.go . IdentityStorage

// IdentityStorage defines interface for storing device enrollment data
type IdentityStorage interface {
	// SaveIdentity stores enrollment data (token, role, server url)
	SaveIdentity(ctx context.Context, identity *models.DeviceIdentity) error

	// GetIdentity retrieves enrollment data
	// Returns ErrIdentityNotFound if device is not enrolled
	GetIdentity(ctx context.Context) (*models.DeviceIdentity, error)

	// DeleteIdentity removes enrollment data
	DeleteIdentity(ctx context.Context) error
}

// Store combines all client storage interfaces backed by a single database
type Store interface {
	RecordStorage
	ResolutionLog
	ConflictStorage
	MetadataStorage
	IdentityStorage
	Close() error
}
