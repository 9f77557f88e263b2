package boltdb

import (
	"context"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/iudanet/scorekeeper/internal/client/storage"
	"github.com/iudanet/scorekeeper/internal/models"
)

var identityKey = []byte("current")

// SaveIdentity stores enrollment data
func (s *Storage) SaveIdentity(ctx context.Context, identity *models.DeviceIdentity) error {
	return s.update("save identity", func(tx *bbolt.Tx) error {
		b, err := bucket(tx, bucketIdentity)
		if err != nil {
			return err
		}

		// Сериализуем данные в JSON
		data, err := json.Marshal(identity)
		if err != nil {
			return fmt.Errorf("failed to marshal identity: %w", err)
		}

		if err := b.Put(identityKey, data); err != nil {
			return fmt.Errorf("failed to save identity: %w", err)
		}

		return nil
	})
}

// GetIdentity retrieves enrollment data
func (s *Storage) GetIdentity(ctx context.Context) (*models.DeviceIdentity, error) {
	var identity *models.DeviceIdentity

	err := s.view("get identity", func(tx *bbolt.Tx) error {
		b, err := bucket(tx, bucketIdentity)
		if err != nil {
			return err
		}

		data := b.Get(identityKey)
		if data == nil {
			return storage.ErrIdentityNotFound
		}

		identity = &models.DeviceIdentity{}
		if err := json.Unmarshal(data, identity); err != nil {
			return fmt.Errorf("failed to unmarshal identity: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return identity, nil
}

// DeleteIdentity removes enrollment data
func (s *Storage) DeleteIdentity(ctx context.Context) error {
	return s.update("delete identity", func(tx *bbolt.Tx) error {
		b, err := bucket(tx, bucketIdentity)
		if err != nil {
			return err
		}
		return b.Delete(identityKey)
	})
}
