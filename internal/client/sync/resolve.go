package sync

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/iudanet/scorekeeper/internal/client/storage"
	"github.com/iudanet/scorekeeper/internal/conflict"
	"github.com/iudanet/scorekeeper/internal/crdt"
	"github.com/iudanet/scorekeeper/internal/models"
)

// resolve разрешает конкурентную удаленную версию записи. Автоматическое
// решение сохраняется вместе с записью журнала и ставится в очередь на
// отправку; ручное - сохраняется как ConflictCase и блокирует запись.
func (e *Engine) resolve(ctx context.Context, remote *models.Record) error {
	for attempt := 0; attempt < maxApplyRetries; attempt++ {
		local, err := e.store.GetRecord(ctx, remote.ID)
		if errors.Is(err, storage.ErrRecordNotFound) {
			_, err = e.applyRemote(ctx, remote)
			return err
		}
		if err != nil {
			return fmt.Errorf("failed to get record: %w", err)
		}
		if local.SyncStatus == models.SyncStatusConflict {
			return nil
		}

		if local.VersionVector.Compare(remote.VersionVector) != crdt.Concurrent {
			concurrent, err := e.applyRemote(ctx, remote)
			if err != nil || !concurrent {
				return err
			}
			continue
		}

		res := e.resolver.Resolve(local, remote)

		if res.Outcome == models.OutcomeNeedsManualResolution {
			return e.requireManual(ctx, local, remote, res)
		}

		merged := res.Merged
		merged.VersionVector = merged.VersionVector.Increment(e.deviceID)

		entry := &models.ResolutionLogEntry{
			ID:        uuid.NewString(),
			RecordID:  local.ID,
			Local:     local,
			Remote:    remote,
			Resolved:  merged,
			Strategy:  res.Strategy,
			Decisions: res.Decisions,
			Timestamp: e.clock(),
		}

		err = e.store.CommitResolution(ctx, merged, resolutionDelta(merged, remote), entry, "", local.VersionVector)
		if errors.Is(err, storage.ErrStaleRecord) {
			e.logger.Debug("Record changed during resolution, retrying", "record_id", local.ID)
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to commit resolution: %w", err)
		}

		e.logger.Info("Conflict auto-resolved",
			"record_id", local.ID,
			"strategy", string(res.Strategy),
			"conflicting_fields", len(res.Detection.ConflictingFields),
		)
		return nil
	}

	return fmt.Errorf("failed to resolve record %s: %w", remote.ID, storage.ErrStaleRecord)
}

func (e *Engine) requireManual(ctx context.Context, local, remote *models.Record, res conflict.Resolution) error {
	cc := &models.ConflictCase{
		ID:                uuid.NewString(),
		RecordID:          local.ID,
		Local:             local,
		Remote:            remote,
		Merged:            res.Merged,
		Strategy:          res.Strategy,
		Outcome:           models.OutcomeNeedsManualResolution,
		Reason:            res.Reason,
		ConflictingFields: res.Detection.ConflictingFields,
		FieldResolvable:   res.Detection.FieldResolvable,
		DetectedAt:        e.clock(),
	}
	if err := e.store.SaveConflict(ctx, cc); err != nil {
		return fmt.Errorf("failed to save conflict case: %w", err)
	}

	e.logger.Info("Conflict requires manual resolution", "record_id", local.ID, "reason", res.Reason)
	e.emitConflict(cc)
	return nil
}

// ResolveManually применяет выбор пользователя к открытому конфликту.
// Решение записывается в журнал с UserConfirmed и ставится в очередь на отправку.
func (e *Engine) ResolveManually(ctx context.Context, conflictID string, choice models.Choice) (*models.Record, error) {
	cc, err := e.store.GetConflict(ctx, conflictID)
	if err != nil {
		return nil, fmt.Errorf("failed to get conflict: %w", err)
	}

	// Локальная запись могла измениться после обнаружения конфликта
	current, err := e.store.GetRecord(ctx, cc.RecordID)
	switch {
	case errors.Is(err, storage.ErrRecordNotFound):
		current = cc.Local
	case err != nil:
		return nil, fmt.Errorf("failed to get record: %w", err)
	}
	expected := crdt.VersionVector(nil)
	if current != nil {
		expected = current.VersionVector
	}

	view := *cc
	view.Local = current

	rec, decisions, err := e.resolver.ApplyChoice(&view, choice)
	if err != nil {
		return nil, err
	}
	strategy, _ := choice.Strategy()

	rec.VersionVector = rec.VersionVector.Increment(e.deviceID)
	rec.SyncStatus = models.SyncStatusPending
	rec.LastError = ""

	entry := &models.ResolutionLogEntry{
		ID:            uuid.NewString(),
		RecordID:      cc.RecordID,
		Local:         current,
		Remote:        cc.Remote,
		Resolved:      rec,
		Strategy:      strategy,
		Decisions:     decisions,
		Timestamp:     e.clock(),
		UserConfirmed: true,
	}

	if err := e.store.CommitResolution(ctx, rec, resolutionDelta(rec, cc.Remote), entry, cc.ID, expected); err != nil {
		return nil, fmt.Errorf("failed to commit resolution: %w", err)
	}

	e.logger.Info("Conflict resolved manually", "record_id", cc.RecordID, "choice", string(choice))
	e.Notify()
	e.refreshStatus(ctx)
	return rec, nil
}

// resolutionDelta поля, которые нужно отправить после разрешения: все поля
// итоговой записи и nil для полей, отсутствующих в ней, но есть на сервере.
func resolutionDelta(resolved, remote *models.Record) map[string]any {
	delta := make(map[string]any, len(resolved.Fields))
	for f, v := range resolved.Fields {
		delta[f] = v
	}
	if remote != nil {
		for f := range remote.Fields {
			if _, ok := resolved.Fields[f]; !ok {
				delta[f] = nil
			}
		}
	}
	return delta
}
