package sync

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	clientapi "github.com/iudanet/scorekeeper/internal/client/api"
	"github.com/iudanet/scorekeeper/internal/client/storage"
	"github.com/iudanet/scorekeeper/internal/models"
	"github.com/iudanet/scorekeeper/internal/syncerr"
	"github.com/iudanet/scorekeeper/pkg/api"
)

// pushBatch пакет изменений одного типа сущности
type pushBatch struct {
	entityType string
	changes    []*models.PendingChange
	records    []*models.Record
}

// push отправляет очередь ожидающих изменений. Возвращает серверные версии
// записей, по которым сервер сообщил о конфликте.
func (e *Engine) push(ctx context.Context) ([]*models.Record, error) {
	changes, err := e.store.ListPending(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending changes: %w", err)
	}
	if len(changes) == 0 {
		return nil, nil
	}

	batches, err := e.batches(ctx, changes)
	if err != nil {
		return nil, err
	}

	var conflicts []*models.Record
	pushed := 0

	for _, batch := range batches {
		items := make([]api.PushItem, 0, len(batch.changes))
		for i, change := range batch.changes {
			items = append(items, clientapi.PushItemFromChange(batch.records[i], change))
		}

		callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
		resp, err := e.remote.Push(callCtx, items)
		cancel()

		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if errors.Is(err, syncerr.ErrRejected) {
				if perr := e.parkRejected(ctx, batch, err); perr != nil {
					return nil, perr
				}
				continue
			}
			if errors.Is(err, syncerr.ErrNetwork) {
				if aerr := e.recordAttempt(ctx, batch, err); aerr != nil {
					return nil, aerr
				}
			}
			return nil, err
		}
		e.conn.ReportWriteSuccess()

		for i, result := range resp.Results {
			change := batch.changes[i]
			switch result.Status {
			case api.PushStatusAccepted:
				acked, err := e.store.AckPending(ctx, change.RecordID, change.IdempotencyKey, result.ServerVersionVector)
				if err != nil {
					return nil, fmt.Errorf("failed to ack pending change: %w", err)
				}
				if !acked {
					e.logger.Debug("Change was edited while in flight, keeping it pending", "record_id", change.RecordID)
				}
				pushed++

			case api.PushStatusConflict:
				if result.Record == nil {
					return nil, syncerr.Network("push", fmt.Errorf("conflict result for %s has no server record", change.RecordID))
				}
				remote := clientapi.RecordFromAPI(*result.Record)
				e.logger.Info("Remote store reported conflict", "record_id", change.RecordID)
				conflicts = appendConflicts(conflicts, remote)

			default:
				return nil, syncerr.Network("push", fmt.Errorf("unknown push status %q for %s", result.Status, change.RecordID))
			}
		}
	}

	e.logger.Info("Pushed local changes", "accepted", pushed, "batches", len(batches), "conflicts", len(conflicts))
	return conflicts, nil
}

// batches группирует изменения по типу сущности (типы по алфавиту, внутри типа -
// FIFO) и режет на пакеты не больше BatchSize. Записи в конфликте пропускаются.
func (e *Engine) batches(ctx context.Context, changes []*models.PendingChange) ([]pushBatch, error) {
	byType := make(map[string]*pushBatch)
	var types []string

	for _, change := range changes {
		rec, err := e.store.GetRecord(ctx, change.RecordID)
		if errors.Is(err, storage.ErrRecordNotFound) {
			e.logger.Warn("Pending change without record", "record_id", change.RecordID)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get record: %w", err)
		}
		if rec.SyncStatus == models.SyncStatusConflict {
			continue
		}

		b, ok := byType[change.EntityType]
		if !ok {
			b = &pushBatch{entityType: change.EntityType}
			byType[change.EntityType] = b
			types = append(types, change.EntityType)
		}
		b.changes = append(b.changes, change)
		b.records = append(b.records, rec)
	}

	sort.Strings(types)

	var out []pushBatch
	for _, t := range types {
		all := byType[t]
		for start := 0; start < len(all.changes); start += e.cfg.BatchSize {
			end := min(start+e.cfg.BatchSize, len(all.changes))
			out = append(out, pushBatch{
				entityType: t,
				changes:    all.changes[start:end],
				records:    all.records[start:end],
			})
		}
	}
	return out, nil
}

// recordAttempt учитывает неудачную попытку отправки пакета. При наличии связи
// изменения, исчерпавшие MaxAttempts, переводятся в конфликт для ручного решения.
func (e *Engine) recordAttempt(ctx context.Context, batch pushBatch, cause error) error {
	online := e.conn.Online()

	for i, change := range batch.changes {
		change.Attempts++
		change.LastError = cause.Error()
		if err := e.store.UpdatePending(ctx, change); err != nil && !errors.Is(err, storage.ErrPendingNotFound) {
			return fmt.Errorf("failed to update pending change: %w", err)
		}

		if !online || e.cfg.MaxAttempts == 0 || change.Attempts < e.cfg.MaxAttempts {
			continue
		}

		e.logger.Warn("Push abandoned after max attempts",
			"record_id", change.RecordID,
			"attempts", change.Attempts,
		)
		if err := e.openConflict(ctx, batch.records[i], models.ReasonPushAbandoned); err != nil {
			return err
		}
	}
	return nil
}

// parkRejected переводит отклоненные сервером изменения в конфликт:
// они не повторяются автоматически и ждут решения пользователя.
func (e *Engine) parkRejected(ctx context.Context, batch pushBatch, cause error) error {
	e.logger.Warn("Remote store rejected changes",
		"entity_type", batch.entityType,
		"count", len(batch.changes),
		"error", cause,
	)

	e.mu.Lock()
	e.rejected += len(batch.changes)
	e.rejectErr = cause.Error()
	e.mu.Unlock()

	for _, rec := range batch.records {
		local := rec.Clone()
		local.LastError = cause.Error()
		if err := e.openConflict(ctx, local, models.ReasonPushRejected); err != nil {
			return err
		}
		if err := e.store.SetSyncStatus(ctx, rec.ID, models.SyncStatusConflict, cause.Error()); err != nil {
			return fmt.Errorf("failed to set sync status: %w", err)
		}
	}
	return nil
}

// openConflict сохраняет конфликт без удаленной версии и уведомляет слушателей
func (e *Engine) openConflict(ctx context.Context, local *models.Record, reason string) error {
	cc := &models.ConflictCase{
		ID:              uuid.NewString(),
		RecordID:        local.ID,
		Local:           local,
		Outcome:         models.OutcomeNeedsManualResolution,
		Reason:          reason,
		DetectedAt:      e.clock(),
		FieldResolvable: local.HasFieldTimes(),
	}
	if err := e.store.SaveConflict(ctx, cc); err != nil {
		return fmt.Errorf("failed to save conflict case: %w", err)
	}
	e.emitConflict(cc)
	return nil
}
