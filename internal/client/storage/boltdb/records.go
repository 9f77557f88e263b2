package boltdb

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"github.com/iudanet/scorekeeper/internal/client/storage"
	"github.com/iudanet/scorekeeper/internal/crdt"
	"github.com/iudanet/scorekeeper/internal/models"
)

// GetRecord retrieves a record by ID
func (s *Storage) GetRecord(ctx context.Context, id string) (*models.Record, error) {
	var rec *models.Record

	err := s.view("get record", func(tx *bbolt.Tx) error {
		var err error
		rec, err = getRecordTx(tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	return rec, nil
}

// ListRecords returns all records ordered by ID
func (s *Storage) ListRecords(ctx context.Context) ([]*models.Record, error) {
	var records []*models.Record

	err := s.view("list records", func(tx *bbolt.Tx) error {
		b, err := bucket(tx, bucketRecords)
		if err != nil {
			return err
		}

		return b.ForEach(func(k, v []byte) error {
			var rec models.Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("failed to unmarshal record %s: %w", k, err)
			}
			records = append(records, &rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return records, nil
}

// PutRecord stores the record and coalesces its pending change in one transaction
func (s *Storage) PutRecord(ctx context.Context, rec *models.Record, delta map[string]any) error {
	return s.update("put record", func(tx *bbolt.Tx) error {
		return putRecordTx(tx, rec, delta)
	})
}

// ModifyRecord performs read-modify-write of a record in one transaction
func (s *Storage) ModifyRecord(ctx context.Context, id string, fn storage.ModifyFunc) (*models.Record, error) {
	var (
		result *models.Record
		fnErr  error
	)

	err := s.update("modify record", func(tx *bbolt.Tx) error {
		current, err := getRecordTx(tx, id)
		if err != nil && !errors.Is(err, storage.ErrRecordNotFound) {
			return err
		}

		next, delta, err := fn(current)
		if err != nil {
			// Ошибка вызывающего кода не является сбоем хранилища
			fnErr = err
			return err
		}
		if next == nil {
			result = current
			return nil
		}

		if err := putRecordTx(tx, next, delta); err != nil {
			return err
		}
		result = next
		return nil
	})
	if fnErr != nil {
		return nil, fnErr
	}
	if err != nil {
		return nil, err
	}

	return result, nil
}

// ListPending returns pending changes in FIFO order
func (s *Storage) ListPending(ctx context.Context) ([]*models.PendingChange, error) {
	var changes []*models.PendingChange

	err := s.view("list pending", func(tx *bbolt.Tx) error {
		b, err := bucket(tx, bucketPending)
		if err != nil {
			return err
		}

		// Ключи - big-endian seq, поэтому порядок обхода совпадает с порядком постановки
		return b.ForEach(func(k, v []byte) error {
			var change models.PendingChange
			if err := json.Unmarshal(v, &change); err != nil {
				return fmt.Errorf("failed to unmarshal pending change: %w", err)
			}
			changes = append(changes, &change)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return changes, nil
}

// GetPending returns pending change of the record
func (s *Storage) GetPending(ctx context.Context, recordID string) (*models.PendingChange, error) {
	var change *models.PendingChange

	err := s.view("get pending", func(tx *bbolt.Tx) error {
		var err error
		change, _, err = getPendingTx(tx, recordID)
		if err != nil {
			return err
		}
		if change == nil {
			return storage.ErrPendingNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return change, nil
}

// UpdatePending stores attempt bookkeeping (Attempts, LastError) of a pending change.
// The delta and idempotency key of the stored change are kept.
func (s *Storage) UpdatePending(ctx context.Context, change *models.PendingChange) error {
	return s.update("update pending", func(tx *bbolt.Tx) error {
		current, key, err := getPendingTx(tx, change.RecordID)
		if err != nil {
			return err
		}
		if current == nil {
			return storage.ErrPendingNotFound
		}

		// Изменение могло быть слито с новой правкой - тогда счетчик попыток не переносим
		if current.IdempotencyKey != change.IdempotencyKey {
			return nil
		}

		current.Attempts = change.Attempts
		current.LastError = change.LastError
		return putPendingTx(tx, key, current)
	})
}

// AckPending removes the pending change if its idempotency key still matches
func (s *Storage) AckPending(ctx context.Context, recordID, idempotencyKey string, serverVersion crdt.VersionVector) (bool, error) {
	acked := false

	err := s.update("ack pending", func(tx *bbolt.Tx) error {
		rec, err := getRecordTx(tx, recordID)
		if err != nil {
			return err
		}

		change, key, err := getPendingTx(tx, recordID)
		if err != nil {
			return err
		}

		if change == nil || change.IdempotencyKey != idempotencyKey {
			// Запись изменилась после отправки: остается pending, запоминаем только серверную версию
			rec.RemoteVersion = serverVersion.Clone()
			return saveRecordTx(tx, rec)
		}

		if err := deletePendingTx(tx, recordID, key); err != nil {
			return err
		}

		acked = true
		markSynced(rec, serverVersion)
		return saveRecordTx(tx, rec)
	})

	return acked, err
}

// MarkSynced marks the record as confirmed by the remote store
func (s *Storage) MarkSynced(ctx context.Context, id string, remoteVersion crdt.VersionVector) error {
	return s.update("mark synced", func(tx *bbolt.Tx) error {
		rec, err := getRecordTx(tx, id)
		if err != nil {
			return err
		}

		if err := dropPendingTx(tx, id); err != nil {
			return err
		}

		markSynced(rec, remoteVersion)
		return saveRecordTx(tx, rec)
	})
}

// ApplyRemote replaces local state with a dominating remote record
func (s *Storage) ApplyRemote(ctx context.Context, rec *models.Record) error {
	return s.update("apply remote", func(tx *bbolt.Tx) error {
		current, err := getRecordTx(tx, rec.ID)
		switch {
		case errors.Is(err, storage.ErrRecordNotFound):
		case err != nil:
			return err
		case !rec.VersionVector.Descends(current.VersionVector):
			// Локальная правка появилась после чтения - применять удаленную версию нельзя
			return storage.ErrStaleRecord
		}

		if err := dropPendingTx(tx, rec.ID); err != nil {
			return err
		}

		applied := rec.Clone()
		markSynced(applied, rec.VersionVector)
		return saveRecordTx(tx, applied)
	})
}

// SetSyncStatus updates sync status and last error of the record
func (s *Storage) SetSyncStatus(ctx context.Context, id string, status models.SyncStatus, lastError string) error {
	return s.update("set sync status", func(tx *bbolt.Tx) error {
		rec, err := getRecordTx(tx, id)
		if err != nil {
			return err
		}
		rec.SyncStatus = status
		rec.LastError = lastError
		return saveRecordTx(tx, rec)
	})
}

// PendingCount returns number of pending changes
func (s *Storage) PendingCount(ctx context.Context) (int, error) {
	count := 0

	err := s.view("pending count", func(tx *bbolt.Tx) error {
		b, err := bucket(tx, bucketPending)
		if err != nil {
			return err
		}
		count = b.Stats().KeyN
		return nil
	})

	return count, err
}

// DeleteRecord removes a synced record
func (s *Storage) DeleteRecord(ctx context.Context, id string) error {
	return s.update("delete record", func(tx *bbolt.Tx) error {
		rec, err := getRecordTx(tx, id)
		if err != nil {
			return err
		}

		change, _, err := getPendingTx(tx, id)
		if err != nil {
			return err
		}

		// Удаление несинхронизированной записи потеряло бы локальные изменения
		if rec.SyncStatus != models.SyncStatusSynced || change != nil {
			return fmt.Errorf("failed to delete record %s: %w", id, storage.ErrUnsyncedRecord)
		}

		b, err := bucket(tx, bucketRecords)
		if err != nil {
			return err
		}
		return b.Delete([]byte(id))
	})
}

func markSynced(rec *models.Record, remoteVersion crdt.VersionVector) {
	rec.VersionVector = rec.VersionVector.Merge(remoteVersion)
	rec.RemoteVersion = remoteVersion.Clone()
	rec.BaseFieldTimes = make(map[string]time.Time, len(rec.FieldWriteTimes))
	for f, ts := range rec.FieldWriteTimes {
		rec.BaseFieldTimes[f] = ts
	}
	rec.SyncStatus = models.SyncStatusSynced
	rec.LastError = ""
}

func getRecordTx(tx *bbolt.Tx, id string) (*models.Record, error) {
	b, err := bucket(tx, bucketRecords)
	if err != nil {
		return nil, err
	}

	data := b.Get([]byte(id))
	if data == nil {
		return nil, storage.ErrRecordNotFound
	}

	rec := &models.Record{}
	if err := json.Unmarshal(data, rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record: %w", err)
	}
	return rec, nil
}

func saveRecordTx(tx *bbolt.Tx, rec *models.Record) error {
	b, err := bucket(tx, bucketRecords)
	if err != nil {
		return err
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	if err := b.Put([]byte(rec.ID), data); err != nil {
		return fmt.Errorf("failed to save record: %w", err)
	}
	return nil
}

// putRecordTx сохраняет запись и, если delta != nil, ставит или сливает pending change.
// Слитое изменение получает новый idempotency key: его содержимое отличается от
// возможно уже отправленного, и подтверждение старой версии не должно его удалить.
func putRecordTx(tx *bbolt.Tx, rec *models.Record, delta map[string]any) error {
	if delta != nil {
		change, key, err := getPendingTx(tx, rec.ID)
		if err != nil {
			return err
		}

		if change == nil {
			pending, err := bucket(tx, bucketPending)
			if err != nil {
				return err
			}
			seq, err := pending.NextSequence()
			if err != nil {
				return fmt.Errorf("failed to allocate pending sequence: %w", err)
			}
			key = seqKey(seq)
			change = &models.PendingChange{
				RecordID:   rec.ID,
				EntityType: rec.Type,
				Seq:        seq,
				EnqueuedAt: time.Now().UTC(),
			}
		}

		change.Coalesce(delta)
		change.IdempotencyKey = uuid.NewString()

		if err := putPendingTx(tx, key, change); err != nil {
			return err
		}

		if rec.SyncStatus != models.SyncStatusConflict {
			rec.SyncStatus = models.SyncStatusPending
		}
	}

	return saveRecordTx(tx, rec)
}

func getPendingTx(tx *bbolt.Tx, recordID string) (*models.PendingChange, []byte, error) {
	index, err := bucket(tx, bucketPendingIndex)
	if err != nil {
		return nil, nil, err
	}

	key := index.Get([]byte(recordID))
	if key == nil {
		return nil, nil, nil
	}
	// bbolt возвращает срез, валидный только внутри транзакции
	key = append([]byte(nil), key...)

	pending, err := bucket(tx, bucketPending)
	if err != nil {
		return nil, nil, err
	}

	data := pending.Get(key)
	if data == nil {
		return nil, nil, fmt.Errorf("pending index of %s points to missing change", recordID)
	}

	change := &models.PendingChange{}
	if err := json.Unmarshal(data, change); err != nil {
		return nil, nil, fmt.Errorf("failed to unmarshal pending change: %w", err)
	}
	return change, key, nil
}

func putPendingTx(tx *bbolt.Tx, key []byte, change *models.PendingChange) error {
	pending, err := bucket(tx, bucketPending)
	if err != nil {
		return err
	}
	index, err := bucket(tx, bucketPendingIndex)
	if err != nil {
		return err
	}

	data, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("failed to marshal pending change: %w", err)
	}

	if err := pending.Put(key, data); err != nil {
		return fmt.Errorf("failed to save pending change: %w", err)
	}
	if err := index.Put([]byte(change.RecordID), key); err != nil {
		return fmt.Errorf("failed to save pending index: %w", err)
	}
	return nil
}

func deletePendingTx(tx *bbolt.Tx, recordID string, key []byte) error {
	pending, err := bucket(tx, bucketPending)
	if err != nil {
		return err
	}
	index, err := bucket(tx, bucketPendingIndex)
	if err != nil {
		return err
	}

	if err := pending.Delete(key); err != nil {
		return fmt.Errorf("failed to delete pending change: %w", err)
	}
	return index.Delete([]byte(recordID))
}

func dropPendingTx(tx *bbolt.Tx, recordID string) error {
	change, key, err := getPendingTx(tx, recordID)
	if err != nil || change == nil {
		return err
	}
	return deletePendingTx(tx, recordID, key)
}

func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}
