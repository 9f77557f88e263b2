package boltdb

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"
)

const (
	keyRemoteCursor = "remote_cursor"
	keyDeviceID     = "device_id"
)

// SaveCursor saves the remote change feed cursor
func (s *Storage) SaveCursor(ctx context.Context, cursor uint64) error {
	return s.update("save cursor", func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketMetadata)
		if b == nil {
			return fmt.Errorf("metadata bucket not found")
		}

		// Конвертируем uint64 в bytes
		cursorBytes := make([]byte, 8)
		binary.BigEndian.PutUint64(cursorBytes, cursor)

		if err := b.Put([]byte(keyRemoteCursor), cursorBytes); err != nil {
			return fmt.Errorf("failed to save remote cursor: %w", err)
		}

		return nil
	})
}

// GetCursor retrieves the remote change feed cursor
// Returns 0 if nothing has been pulled yet
func (s *Storage) GetCursor(ctx context.Context) (uint64, error) {
	var cursor uint64

	err := s.view("get cursor", func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketMetadata)
		if b == nil {
			return fmt.Errorf("metadata bucket not found")
		}

		cursorBytes := b.Get([]byte(keyRemoteCursor))
		if cursorBytes == nil {
			// Курсор не найден - первая синхронизация
			return nil
		}

		cursor = binary.BigEndian.Uint64(cursorBytes)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to get remote cursor: %w", err)
	}

	return cursor, nil
}

// DeviceID returns the stable id of this device, generating it on first call
func (s *Storage) DeviceID(ctx context.Context) (string, error) {
	var id string

	err := s.update("device id", func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketMetadata)
		if b == nil {
			return fmt.Errorf("metadata bucket not found")
		}

		if existing := b.Get([]byte(keyDeviceID)); existing != nil {
			id = string(existing)
			return nil
		}

		id = uuid.NewString()
		return b.Put([]byte(keyDeviceID), []byte(id))
	})
	if err != nil {
		return "", fmt.Errorf("failed to get device id: %w", err)
	}

	return id, nil
}
