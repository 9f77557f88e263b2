package boltdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/iudanet/scorekeeper/internal/client/storage"
	"github.com/iudanet/scorekeeper/internal/models"
)

// SaveConflict stores the case under its record ID and marks the record as conflict
func (s *Storage) SaveConflict(ctx context.Context, c *models.ConflictCase) error {
	return s.update("save conflict", func(tx *bbolt.Tx) error {
		b, err := bucket(tx, bucketConflicts)
		if err != nil {
			return err
		}

		data, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("failed to marshal conflict case: %w", err)
		}

		if err := b.Put([]byte(c.RecordID), data); err != nil {
			return fmt.Errorf("failed to save conflict case: %w", err)
		}

		rec, err := getRecordTx(tx, c.RecordID)
		if errors.Is(err, storage.ErrRecordNotFound) {
			// Записи еще нет локально (конфликт пришел вместе с первой удаленной версией)
			if c.Local == nil {
				return nil
			}
			rec = c.Local.Clone()
		} else if err != nil {
			return err
		}

		rec.SyncStatus = models.SyncStatusConflict
		return saveRecordTx(tx, rec)
	})
}

// GetConflict retrieves a case by ID
func (s *Storage) GetConflict(ctx context.Context, id string) (*models.ConflictCase, error) {
	var found *models.ConflictCase

	err := s.view("get conflict", func(tx *bbolt.Tx) error {
		b, err := bucket(tx, bucketConflicts)
		if err != nil {
			return err
		}

		err = b.ForEach(func(k, v []byte) error {
			var c models.ConflictCase
			if err := json.Unmarshal(v, &c); err != nil {
				return fmt.Errorf("failed to unmarshal conflict case: %w", err)
			}
			if c.ID == id {
				found = &c
			}
			return nil
		})
		if err != nil {
			return err
		}

		if found == nil {
			return storage.ErrConflictNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return found, nil
}

// ListConflicts returns all open cases ordered by record ID
func (s *Storage) ListConflicts(ctx context.Context) ([]*models.ConflictCase, error) {
	var cases []*models.ConflictCase

	err := s.view("list conflicts", func(tx *bbolt.Tx) error {
		b, err := bucket(tx, bucketConflicts)
		if err != nil {
			return err
		}

		return b.ForEach(func(k, v []byte) error {
			var c models.ConflictCase
			if err := json.Unmarshal(v, &c); err != nil {
				return fmt.Errorf("failed to unmarshal conflict case: %w", err)
			}
			cases = append(cases, &c)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return cases, nil
}

func deleteConflictTx(tx *bbolt.Tx, recordID, conflictID string) error {
	b, err := bucket(tx, bucketConflicts)
	if err != nil {
		return err
	}

	data := b.Get([]byte(recordID))
	if data == nil {
		return storage.ErrConflictNotFound
	}

	var c models.ConflictCase
	if err := json.Unmarshal(data, &c); err != nil {
		return fmt.Errorf("failed to unmarshal conflict case: %w", err)
	}
	if c.ID != conflictID {
		return storage.ErrConflictNotFound
	}

	return b.Delete([]byte(recordID))
}
