package boltdb

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/iudanet/scorekeeper/internal/client/storage"
	"github.com/iudanet/scorekeeper/internal/crdt"
	"github.com/iudanet/scorekeeper/internal/models"
)

// Ключ журнала: record_id + 0x00 + big-endian seq.
// Это дает дешевый prefix scan по записи и порядок добавления внутри нее.
func logKey(recordID string, seq uint64) []byte {
	key := make([]byte, 0, len(recordID)+9)
	key = append(key, recordID...)
	key = append(key, 0)
	return binary.BigEndian.AppendUint64(key, seq)
}

func logPrefix(recordID string) []byte {
	return append([]byte(recordID), 0)
}

// AppendResolution appends an entry to the journal
func (s *Storage) AppendResolution(ctx context.Context, entry *models.ResolutionLogEntry) error {
	return s.update("append resolution", func(tx *bbolt.Tx) error {
		return appendResolutionTx(tx, entry)
	})
}

// QueryResolutions returns entries of the record in append order
func (s *Storage) QueryResolutions(ctx context.Context, recordID string) ([]*models.ResolutionLogEntry, error) {
	var entries []*models.ResolutionLogEntry

	err := s.view("query resolutions", func(tx *bbolt.Tx) error {
		b, err := bucket(tx, bucketResolutionLog)
		if err != nil {
			return err
		}

		prefix := logPrefix(recordID)
		c := b.Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var entry models.ResolutionLogEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return fmt.Errorf("failed to unmarshal resolution entry: %w", err)
			}
			entries = append(entries, &entry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return entries, nil
}

// ListResolutions returns all entries ordered by record, then append order
func (s *Storage) ListResolutions(ctx context.Context) ([]*models.ResolutionLogEntry, error) {
	var entries []*models.ResolutionLogEntry

	err := s.view("list resolutions", func(tx *bbolt.Tx) error {
		b, err := bucket(tx, bucketResolutionLog)
		if err != nil {
			return err
		}

		return b.ForEach(func(k, v []byte) error {
			var entry models.ResolutionLogEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return fmt.Errorf("failed to unmarshal resolution entry: %w", err)
			}
			entries = append(entries, &entry)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return entries, nil
}

// CommitResolution stores the resolved record, appends the journal entry
// and removes the conflict case atomically
func (s *Storage) CommitResolution(ctx context.Context, rec *models.Record, delta map[string]any, entry *models.ResolutionLogEntry, conflictID string, expected crdt.VersionVector) error {
	return s.update("commit resolution", func(tx *bbolt.Tx) error {
		current, err := getRecordTx(tx, rec.ID)
		switch {
		case errors.Is(err, storage.ErrRecordNotFound):
			if len(expected) > 0 {
				return storage.ErrStaleRecord
			}
		case err != nil:
			return err
		case current.VersionVector.Compare(expected) != crdt.Equal:
			return storage.ErrStaleRecord
		}

		if err := putRecordTx(tx, rec, delta); err != nil {
			return err
		}

		if err := appendResolutionTx(tx, entry); err != nil {
			return err
		}

		if conflictID == "" {
			return nil
		}

		// Решение пользователя начинает отсчет попыток отправки заново
		change, key, err := getPendingTx(tx, rec.ID)
		if err != nil {
			return err
		}
		if change != nil && change.Attempts > 0 {
			change.Attempts = 0
			change.LastError = ""
			if err := putPendingTx(tx, key, change); err != nil {
				return err
			}
		}
		return deleteConflictTx(tx, rec.ID, conflictID)
	})
}

func appendResolutionTx(tx *bbolt.Tx, entry *models.ResolutionLogEntry) error {
	b, err := bucket(tx, bucketResolutionLog)
	if err != nil {
		return err
	}

	seq, err := b.NextSequence()
	if err != nil {
		return fmt.Errorf("failed to allocate log sequence: %w", err)
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal resolution entry: %w", err)
	}

	if err := b.Put(logKey(entry.RecordID, seq), data); err != nil {
		return fmt.Errorf("failed to append resolution entry: %w", err)
	}
	return nil
}
