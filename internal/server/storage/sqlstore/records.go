package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/iudanet/scorekeeper/internal/crdt"
	"github.com/iudanet/scorekeeper/internal/models"
	"github.com/iudanet/scorekeeper/internal/server/storage"
)

// ApplyChange applies one pushed change in a single transaction
func (s *Storage) ApplyChange(ctx context.Context, change *storage.Change, guard storage.GuardFunc) (*storage.Outcome, error) {
	var out *storage.Outcome

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		// Повтор по ключу идемпотентности возвращает сохраненный результат
		var recordID string
		var seq uint64
		err := tx.QueryRowContext(ctx,
			s.rebind(`SELECT record_id, seq FROM idempotency_keys WHERE key = ?`),
			change.IdempotencyKey,
		).Scan(&recordID, &seq)

		switch {
		case err == nil:
			if recordID != change.ID {
				return storage.ErrIdempotencyMismatch
			}
			entry, err := s.changeTx(ctx, tx, seq)
			if err != nil {
				return err
			}
			out = &storage.Outcome{Record: entry.Record, Seq: seq, Accepted: true}
			return nil
		case !errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("failed to check idempotency key: %w", err)
		}

		if err := s.lockRecordTx(ctx, tx, change.ID); err != nil {
			return err
		}

		current, err := s.getRecordTx(ctx, tx, change.ID)
		if err != nil && !errors.Is(err, storage.ErrRecordNotFound) {
			return err
		}

		var serverVersion crdt.VersionVector
		if current != nil {
			serverVersion = current.VersionVector
		}

		if !change.VersionVector.Descends(serverVersion) {
			out = &storage.Outcome{Record: current}
			return nil
		}

		if guard != nil {
			if err := guard(current, change); err != nil {
				return err
			}
		}

		next := applyDelta(current, change)
		now := time.Now().UTC()

		seq, err = s.appendChangeTx(ctx, tx, next, now)
		if err != nil {
			return err
		}

		if err := s.upsertRecordTx(ctx, tx, next, seq); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx,
			s.rebind(`INSERT INTO idempotency_keys (key, record_id, seq, created_at) VALUES (?, ?, ?, ?)`),
			change.IdempotencyKey, change.ID, seq, now.UnixNano(),
		)
		if err != nil {
			return fmt.Errorf("failed to save idempotency key: %w", err)
		}

		out = &storage.Outcome{Record: next, Seq: seq, Accepted: true}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}

// GetRecord retrieves the current state of a record
func (s *Storage) GetRecord(ctx context.Context, id string) (*models.Record, error) {
	var rec *models.Record
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		rec, err = s.getRecordTx(ctx, tx, id)
		return err
	})
	return rec, err
}

// ChangesSince returns accepted changes with seq > cursor in seq order
func (s *Storage) ChangesSince(ctx context.Context, cursor uint64, limit int) ([]*storage.ChangeEntry, error) {
	query := `
		SELECT seq, record, changed_at
		FROM changes
		WHERE seq > ?
		ORDER BY seq ASC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), cursor, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query changes: %w", err)
	}
	defer rows.Close()

	var entries []*storage.ChangeEntry
	for rows.Next() {
		var (
			seq       uint64
			raw       []byte
			changedAt int64
		)
		if err := rows.Scan(&seq, &raw, &changedAt); err != nil {
			return nil, fmt.Errorf("failed to scan change: %w", err)
		}

		var rec models.Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal change %d: %w", seq, err)
		}

		entries = append(entries, &storage.ChangeEntry{
			Seq:       seq,
			Record:    &rec,
			ChangedAt: time.Unix(0, changedAt).UTC(),
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return entries, nil
}

// applyDelta строит новое состояние записи из текущего и принятого изменения
func applyDelta(current *models.Record, change *storage.Change) *models.Record {
	next := current.Clone()
	if next == nil {
		next = &models.Record{
			ID:              change.ID,
			Type:            change.Type,
			Fields:          make(map[string]any, len(change.Delta)),
			FieldWriteTimes: make(map[string]time.Time, len(change.Delta)),
		}
	}
	if next.FieldWriteTimes == nil {
		next.FieldWriteTimes = make(map[string]time.Time, len(change.Delta))
	}

	for field, value := range change.Delta {
		if value == nil {
			delete(next.Fields, field)
			delete(next.FieldWriteTimes, field)
			continue
		}
		next.Fields[field] = value

		written, ok := change.FieldWriteTimes[field]
		if !ok {
			written = change.UpdatedAt
		}
		next.FieldWriteTimes[field] = written
	}

	var serverVersion crdt.VersionVector
	if current != nil {
		serverVersion = current.VersionVector
	}
	next.VersionVector = serverVersion.Merge(change.VersionVector)
	next.UpdatedAt = change.UpdatedAt
	next.WriterDeviceID = change.WriterDeviceID
	next.WriterRole = change.WriterRole

	return next
}

func (s *Storage) getRecordTx(ctx context.Context, tx *sql.Tx, id string) (*models.Record, error) {
	query := `
		SELECT id, type, fields, field_write_times, version_vector,
		       updated_at, writer_device_id, writer_role
		FROM records
		WHERE id = ?
	`

	var (
		rec                          models.Record
		fields, times, versionVector []byte
		updatedAt                    int64
		role                         string
	)

	err := tx.QueryRowContext(ctx, s.rebind(query), id).Scan(
		&rec.ID,
		&rec.Type,
		&fields,
		&times,
		&versionVector,
		&updatedAt,
		&rec.WriterDeviceID,
		&role,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to get record: %w", err)
	}

	if err := json.Unmarshal(fields, &rec.Fields); err != nil {
		return nil, fmt.Errorf("failed to unmarshal fields: %w", err)
	}
	if err := json.Unmarshal(times, &rec.FieldWriteTimes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal field write times: %w", err)
	}
	if err := json.Unmarshal(versionVector, &rec.VersionVector); err != nil {
		return nil, fmt.Errorf("failed to unmarshal version vector: %w", err)
	}
	rec.UpdatedAt = time.Unix(0, updatedAt).UTC()
	rec.WriterRole = models.Role(role)

	return &rec, nil
}

// lockRecordTx сериализует push одной записи в PostgreSQL, включая еще не
// существующие записи. В SQLite транзакции и так выполняются по одной.
func (s *Storage) lockRecordTx(ctx context.Context, tx *sql.Tx, id string) error {
	if s.dialect != DialectPostgres {
		return nil
	}
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, id); err != nil {
		return fmt.Errorf("failed to lock record: %w", err)
	}
	return nil
}

func (s *Storage) upsertRecordTx(ctx context.Context, tx *sql.Tx, rec *models.Record, seq uint64) error {
	fields, err := json.Marshal(rec.Fields)
	if err != nil {
		return fmt.Errorf("failed to marshal fields: %w", err)
	}
	times, err := json.Marshal(rec.FieldWriteTimes)
	if err != nil {
		return fmt.Errorf("failed to marshal field write times: %w", err)
	}
	versionVector, err := json.Marshal(rec.VersionVector)
	if err != nil {
		return fmt.Errorf("failed to marshal version vector: %w", err)
	}

	query := `
		INSERT INTO records (
			id, type, fields, field_write_times, version_vector,
			updated_at, writer_device_id, writer_role, seq
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			fields = excluded.fields,
			field_write_times = excluded.field_write_times,
			version_vector = excluded.version_vector,
			updated_at = excluded.updated_at,
			writer_device_id = excluded.writer_device_id,
			writer_role = excluded.writer_role,
			seq = excluded.seq
	`

	_, err = tx.ExecContext(ctx, s.rebind(query),
		rec.ID,
		rec.Type,
		string(fields),
		string(times),
		string(versionVector),
		rec.UpdatedAt.UnixNano(),
		rec.WriterDeviceID,
		string(rec.WriterRole),
		seq,
	)
	if err != nil {
		return fmt.Errorf("failed to save record: %w", err)
	}

	return nil
}

func (s *Storage) appendChangeTx(ctx context.Context, tx *sql.Tx, rec *models.Record, at time.Time) (uint64, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal change: %w", err)
	}

	var seq uint64
	err = tx.QueryRowContext(ctx,
		s.rebind(`INSERT INTO changes (record_id, record, changed_at) VALUES (?, ?, ?) RETURNING seq`),
		rec.ID, string(data), at.UnixNano(),
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("failed to append change: %w", err)
	}

	return seq, nil
}

func (s *Storage) changeTx(ctx context.Context, tx *sql.Tx, seq uint64) (*storage.ChangeEntry, error) {
	var (
		raw       []byte
		changedAt int64
	)
	err := tx.QueryRowContext(ctx,
		s.rebind(`SELECT record, changed_at FROM changes WHERE seq = ?`), seq,
	).Scan(&raw, &changedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get change %d: %w", seq, err)
	}

	var rec models.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal change %d: %w", seq, err)
	}

	return &storage.ChangeEntry{Seq: seq, Record: &rec, ChangedAt: time.Unix(0, changedAt).UTC()}, nil
}

// withTx выполняет fn в транзакции: commit при успехе, rollback при ошибке
func (s *Storage) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
