package sync

import (
	"context"
	"errors"

	"github.com/iudanet/scorekeeper/internal/models"
	"github.com/iudanet/scorekeeper/internal/syncerr"
)

// fail завершает цикл с ошибкой. Сетевая ошибка переводит движок в
// error-backoff, остальные - в idle до следующего триггера.
func (e *Engine) fail(parent, cycleCtx context.Context, err error) error {
	switch {
	case parent.Err() != nil:
		e.transition(StateIdle)
		return parent.Err()

	case cycleCtx.Err() != nil:
		e.logger.Info("Sync cycle cancelled", "state", string(e.State()))
		e.transition(StateIdle)
		e.refreshStatus(parent)
		return ErrCycleCancelled

	case errors.Is(err, syncerr.ErrNetwork):
		e.conn.ReportWriteFailure()
		e.mu.Lock()
		e.failures++
		e.netErr = err.Error()
		failures := e.failures
		e.mu.Unlock()

		e.logger.Warn("Sync cycle failed", "error", err, "consecutive_failures", failures)
		e.transition(StateBackoff)
		e.refreshStatus(parent)
		return err

	case errors.Is(err, syncerr.ErrRejected):
		e.mu.Lock()
		e.rejectErr = err.Error()
		e.mu.Unlock()

		e.logger.Error("Remote store rejected sync request", "error", err)
		e.transition(StateIdle)
		e.refreshStatus(parent)
		return err

	default:
		err = syncerr.Storage("sync", err)
		e.mu.Lock()
		e.storageErr = err.Error()
		e.mu.Unlock()

		e.logger.Error("Sync cycle failed", "error", err)
		e.transition(StateIdle)
		e.refreshStatus(parent)
		return err
	}
}

// Status возвращает последнее вычисленное состояние синхронизации
func (e *Engine) Status() models.SyncStatusEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// OnSyncStatusChange подписывает fn на изменения агрегированного состояния.
// Возвращает функцию отписки.
func (e *Engine) OnSyncStatusChange(fn func(models.SyncStatusEvent)) func() {
	e.listenersMu.Lock()
	id := e.nextListener
	e.nextListener++
	e.statusListeners[id] = fn
	e.listenersMu.Unlock()

	return func() {
		e.listenersMu.Lock()
		delete(e.statusListeners, id)
		e.listenersMu.Unlock()
	}
}

// OnConflict подписывает fn на конфликты, требующие ручного решения.
// Возвращает функцию отписки.
func (e *Engine) OnConflict(fn func(*models.ConflictCase)) func() {
	e.listenersMu.Lock()
	id := e.nextListener
	e.nextListener++
	e.conflictListeners[id] = fn
	e.listenersMu.Unlock()

	return func() {
		e.listenersMu.Lock()
		delete(e.conflictListeners, id)
		e.listenersMu.Unlock()
	}
}

func (e *Engine) emitConflict(cc *models.ConflictCase) {
	e.listenersMu.Lock()
	listeners := make([]func(*models.ConflictCase), 0, len(e.conflictListeners))
	for _, fn := range e.conflictListeners {
		listeners = append(listeners, fn)
	}
	e.listenersMu.Unlock()

	for _, fn := range listeners {
		fn(cc)
	}
}

// refreshStatus пересчитывает агрегированное состояние и уведомляет слушателей,
// если оно изменилось
func (e *Engine) refreshStatus(ctx context.Context) {
	pending, err := e.store.PendingCount(ctx)
	if err != nil {
		e.logger.Warn("Failed to count pending changes", "error", err)
		pending = e.Status().PendingCount
	}

	e.mu.Lock()
	ev := models.SyncStatusEvent{PendingCount: pending}

	networkDegraded := e.failures >= e.cfg.ErrorThreshold
	if e.rejected > 0 {
		ev.ErrorCount += e.rejected
	} else if e.rejectErr != "" {
		ev.ErrorCount++
	}
	if networkDegraded {
		ev.ErrorCount += e.failures
	}
	if e.storageErr != "" {
		ev.ErrorCount++
	}

	switch {
	case ev.ErrorCount > 0:
		ev.Status = models.StatusError
		for _, msg := range []string{e.storageErr, e.rejectErr, e.netErr} {
			if msg != "" {
				ev.Message = msg
				break
			}
		}
	case e.state == StatePushing || e.state == StatePulling || e.state == StateResolving:
		ev.Status = models.StatusSyncing
	case pending > 0:
		ev.Status = models.StatusPending
	default:
		ev.Status = models.StatusSynced
	}

	changed := !e.statusSent || ev != e.status
	e.status = ev
	e.statusSent = true
	e.mu.Unlock()

	if !changed {
		return
	}

	e.listenersMu.Lock()
	listeners := make([]func(models.SyncStatusEvent), 0, len(e.statusListeners))
	for _, fn := range e.statusListeners {
		listeners = append(listeners, fn)
	}
	e.listenersMu.Unlock()

	for _, fn := range listeners {
		fn(ev)
	}
}
