package sync

import (
	"context"
	"errors"
	"fmt"

	clientapi "github.com/iudanet/scorekeeper/internal/client/api"
	"github.com/iudanet/scorekeeper/internal/client/storage"
	"github.com/iudanet/scorekeeper/internal/crdt"
	"github.com/iudanet/scorekeeper/internal/models"
	"github.com/iudanet/scorekeeper/pkg/api"
)

// maxApplyRetries сколько раз повторять применение при гонке с локальной правкой
const maxApplyRetries = 3

// pull применяет изменения из ленты и страницы изменений после курсора.
// Возвращает удаленные версии, конкурентные с локальными.
func (e *Engine) pull(ctx context.Context) ([]*models.Record, error) {
	e.mu.Lock()
	feed := e.feedBuf
	e.feedBuf = nil
	e.mu.Unlock()

	conflicts, err := e.applyDeltas(ctx, feed)
	if err != nil {
		return nil, err
	}

	cursor, err := e.store.GetCursor(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get cursor: %w", err)
	}

	applied := len(feed)
	for {
		callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
		resp, err := e.remote.Pull(callCtx, cursor, e.cfg.PullLimit)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, err
		}
		e.conn.ReportWriteSuccess()

		pageConflicts, err := e.applyDeltas(ctx, resp.Deltas)
		if err != nil {
			return nil, err
		}
		conflicts = appendConflicts(conflicts, pageConflicts...)
		applied += len(resp.Deltas)

		if resp.Cursor > cursor {
			if err := e.store.SaveCursor(ctx, resp.Cursor); err != nil {
				return nil, fmt.Errorf("failed to save cursor: %w", err)
			}
			cursor = resp.Cursor
		}

		if !resp.HasMore || len(resp.Deltas) == 0 {
			break
		}
	}

	e.logger.Info("Pulled remote changes", "deltas", applied, "cursor", cursor, "conflicts", len(conflicts))
	return conflicts, nil
}

// applyDeltas применяет удаленные изменения. Порядок и повторы не важны:
// изменение, не новее локального состояния, игнорируется.
func (e *Engine) applyDeltas(ctx context.Context, deltas []api.Delta) ([]*models.Record, error) {
	var conflicts []*models.Record
	for _, d := range deltas {
		remote := clientapi.RecordFromAPI(d.Record)
		if remote.ID == "" {
			remote.ID = d.ID
		}
		if len(d.VersionVector) > 0 {
			remote.VersionVector = crdt.VersionVector(d.VersionVector).Clone()
		}

		concurrent, err := e.applyRemote(ctx, remote)
		if err != nil {
			return nil, err
		}
		if concurrent {
			conflicts = appendConflicts(conflicts, remote)
		}
	}
	return conflicts, nil
}

// applyRemote сравнивает удаленную версию с локальной и применяет ее, если она
// доминирует. Возвращает true для конкурентных версий.
func (e *Engine) applyRemote(ctx context.Context, remote *models.Record) (bool, error) {
	for attempt := 0; attempt < maxApplyRetries; attempt++ {
		local, err := e.store.GetRecord(ctx, remote.ID)
		switch {
		case errors.Is(err, storage.ErrRecordNotFound):
			// Новая для устройства запись
		case err != nil:
			return false, fmt.Errorf("failed to get record: %w", err)
		case local.SyncStatus == models.SyncStatusConflict:
			// Запись ждет ручного решения; новое серверное состояние вернется
			// конфликтом при повторной отправке
			e.logger.Debug("Skipping remote change of record in conflict", "record_id", remote.ID)
			return false, nil
		default:
			switch local.VersionVector.Compare(remote.VersionVector) {
			case crdt.After:
				return false, nil
			case crdt.Equal:
				if local.SyncStatus == models.SyncStatusSynced {
					return false, nil
				}
				// Подтверждение push потерялось, но сервер уже содержит эту версию
			case crdt.Concurrent:
				return true, nil
			}
		}

		err = e.store.ApplyRemote(ctx, remote)
		if errors.Is(err, storage.ErrStaleRecord) {
			continue
		}
		if err != nil {
			return false, fmt.Errorf("failed to apply remote record: %w", err)
		}
		return false, nil
	}

	// Локальные правки продолжают появляться - разрешаем как конкурентные
	return true, nil
}
