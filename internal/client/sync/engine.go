// Package sync реализует движок синхронизации локального хранилища с сервером.
//
// Движок - конечный автомат (idle, pushing, pulling, resolving, error-backoff),
// работающий в одной горутине Run. Цикл синхронизации отправляет очередь
// ожидающих изменений пакетами по типу сущности, забирает удаленные изменения
// по курсору, разрешает конкурентные версии через conflict.Resolver и
// публикует агрегированное состояние слушателям UI.
package sync

import (
	"context"
	"errors"
	"log/slog"
	gosync "sync"
	"time"

	"github.com/iudanet/scorekeeper/internal/client/connectivity"
	"github.com/iudanet/scorekeeper/internal/client/storage"
	"github.com/iudanet/scorekeeper/internal/conflict"
	"github.com/iudanet/scorekeeper/internal/models"
	"github.com/iudanet/scorekeeper/pkg/api"
)

//go:generate moq -out remote_mock.go . RemoteAPI

// RemoteAPI defines the remote store operations the engine consumes.
type RemoteAPI interface {
	// Push sends a batch of changes and returns per-item results in request order
	Push(ctx context.Context, items []api.PushItem) (*api.PushResponse, error)

	// Pull returns remote changes after cursor
	Pull(ctx context.Context, cursor uint64, limit int) (*api.PullResponse, error)
}

// Connectivity defines the connectivity signal the engine depends on.
type Connectivity interface {
	Online() bool
	Subscribe(fn func(connectivity.Event)) func()
	ReportWriteFailure()
	ReportWriteSuccess()
}

// Store объединяет хранилища, с которыми работает движок
type Store interface {
	storage.RecordStorage
	storage.ResolutionLog
	storage.ConflictStorage
	storage.MetadataStorage
}

// ErrCycleCancelled цикл прерван переходом в offline
var ErrCycleCancelled = errors.New("sync cycle cancelled")

// Engine движок синхронизации. Один экземпляр на процесс.
type Engine struct {
	store    Store
	remote   RemoteAPI
	conn     Connectivity
	resolver *conflict.Resolver
	logger   *slog.Logger
	clock    func() time.Time
	trigger  chan struct{}
	deviceID string
	cfg      Config

	cycleMu gosync.Mutex // один цикл в каждый момент времени

	mu          gosync.Mutex
	state       State
	failures    int    // подряд сетевых ошибок
	netErr      string // последняя сетевая ошибка
	rejected    int    // отклоненных сервером изменений в текущем цикле
	rejectErr   string
	storageErr  string // отказ локального хранилища в текущем цикле
	feedBuf     []api.Delta
	cancelCycle context.CancelFunc
	status      models.SyncStatusEvent
	statusSent  bool

	listenersMu       gosync.Mutex
	nextListener      int
	statusListeners   map[int]func(models.SyncStatusEvent)
	conflictListeners map[int]func(*models.ConflictCase)
}

// Option настраивает Engine
type Option func(*Engine)

// WithClock подменяет источник времени (для тестов)
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.clock = clock }
}

// NewEngine creates a sync engine for the device.
func NewEngine(store Store, remote RemoteAPI, conn Connectivity, resolver *conflict.Resolver, deviceID string, cfg Config, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:             store,
		remote:            remote,
		conn:              conn,
		resolver:          resolver,
		logger:            logger,
		clock:             func() time.Time { return time.Now().UTC() },
		trigger:           make(chan struct{}, 1),
		deviceID:          deviceID,
		cfg:               cfg.withDefaults(),
		state:             StateIdle,
		statusListeners:   make(map[int]func(models.SyncStatusEvent)),
		conflictListeners: make(map[int]func(*models.ConflictCase)),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Notify сообщает о новом ожидающем изменении. Не блокируется.
func (e *Engine) Notify() {
	select {
	case e.trigger <- struct{}{}:
	default:
	}
}

// ApplyFeed принимает изменения из push-ленты. Они обрабатываются в фазе pull
// ближайшего цикла; дубликаты и устаревшие изменения отбрасываются.
func (e *Engine) ApplyFeed(deltas []api.Delta) {
	if len(deltas) == 0 {
		return
	}
	e.mu.Lock()
	e.feedBuf = append(e.feedBuf, deltas...)
	e.mu.Unlock()
	e.Notify()
}

// State возвращает текущее состояние автомата
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Run обслуживает триггеры, события связи и таймер повтора до отмены ctx.
// После запуска сразу выполняет цикл, чтобы отправить очередь, оставшуюся
// с прошлого запуска.
func (e *Engine) Run(ctx context.Context) error {
	events := make(chan connectivity.Event, 4)
	unsubscribe := e.conn.Subscribe(func(ev connectivity.Event) {
		if ev == connectivity.WentOffline {
			e.cancelRunningCycle()
		}
		select {
		case events <- ev:
		default:
		}
	})
	defer unsubscribe()

	var (
		retry  *time.Timer
		retryC <-chan time.Time
	)
	stopRetry := func() {
		if retry != nil {
			retry.Stop()
		}
		retry, retryC = nil, nil
	}
	defer stopRetry()

	e.Notify()
	e.refreshStatus(ctx)

	for {
		var run bool

		select {
		case <-ctx.Done():
			return nil

		case <-e.trigger:
			// В error-backoff новые изменения ждут таймера
			run = e.State() != StateBackoff

		case ev := <-events:
			switch ev {
			case connectivity.WentOnline:
				stopRetry()
				run = true
			case connectivity.WentOffline:
				e.logger.Info("Connectivity lost, sync paused")
			}

		case <-retryC:
			retry, retryC = nil, nil
			run = true
		}

		if !run {
			continue
		}

		if !e.conn.Online() {
			e.logger.Debug("Offline, sync cycle postponed")
			continue
		}

		err := e.SyncOnce(ctx)
		switch {
		case ctx.Err() != nil:
			return nil
		case err == nil:
			// Разрешение конфликтов могло поставить в очередь новые изменения
			if n, cerr := e.store.PendingCount(ctx); cerr == nil && n > 0 && e.hasPushable(ctx) {
				e.Notify()
			}
		case e.State() == StateBackoff:
			stopRetry()
			delay := BackoffDelay(e.cfg.BackoffBase, e.cfg.BackoffMax, e.consecutiveFailures())
			e.logger.Info("Sync retry scheduled", "delay", delay.String())
			retry = time.NewTimer(delay)
			retryC = retry.C
		}
	}
}

// SyncOnce выполняет один цикл push → pull → resolve.
// Возвращает NetworkFailure (движок в error-backoff), StorageFailure,
// RemoteRejection или ErrCycleCancelled.
func (e *Engine) SyncOnce(ctx context.Context) error {
	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()

	cycleCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	e.mu.Lock()
	e.cancelCycle = cancel
	e.rejected = 0
	e.rejectErr = ""
	e.storageErr = ""
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.cancelCycle = nil
		e.mu.Unlock()
	}()

	e.logger.Debug("Starting sync cycle")
	e.transition(StatePushing)
	e.refreshStatus(ctx)

	remoteConflicts, err := e.push(cycleCtx)
	if err != nil {
		return e.fail(ctx, cycleCtx, err)
	}

	e.transition(StatePulling)
	pulled, err := e.pull(cycleCtx)
	if err != nil {
		return e.fail(ctx, cycleCtx, err)
	}
	remoteConflicts = appendConflicts(remoteConflicts, pulled...)

	if len(remoteConflicts) > 0 {
		e.transition(StateResolving)
		for _, remote := range remoteConflicts {
			if err := e.resolve(cycleCtx, remote); err != nil {
				return e.fail(ctx, cycleCtx, err)
			}
		}
	}

	e.mu.Lock()
	e.failures = 0
	e.netErr = ""
	e.mu.Unlock()

	e.transition(StateIdle)
	e.refreshStatus(ctx)
	e.logger.Info("Sync cycle completed", "resolved", len(remoteConflicts))
	return nil
}

// cancelRunningCycle прерывает текущий цикл (went_offline)
func (e *Engine) cancelRunningCycle() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancelCycle != nil {
		e.cancelCycle()
	}
}

func (e *Engine) consecutiveFailures() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.failures
}

// transition переводит автомат в новое состояние по таблице переходов
func (e *Engine) transition(to State) {
	e.mu.Lock()
	from := e.state
	if from == to {
		e.mu.Unlock()
		return
	}
	if !canTransition(from, to) {
		// Новый цикл из любого завершенного состояния начинается через idle
		e.logger.Warn("Unexpected sync state transition", "error", (&TransitionError{From: from, To: to}).Error())
	}
	e.state = to
	e.mu.Unlock()

	e.logger.Debug("Sync state changed", "from", string(from), "to", string(to))
}

// hasPushable сообщает, есть ли в очереди изменения записей не в конфликте
func (e *Engine) hasPushable(ctx context.Context) bool {
	changes, err := e.store.ListPending(ctx)
	if err != nil {
		return false
	}
	for _, change := range changes {
		rec, err := e.store.GetRecord(ctx, change.RecordID)
		if err == nil && rec.SyncStatus != models.SyncStatusConflict {
			return true
		}
	}
	return false
}

// appendConflicts добавляет удаленные версии, оставляя для каждой записи самую свежую
func appendConflicts(list []*models.Record, add ...*models.Record) []*models.Record {
	for _, rec := range add {
		replaced := false
		for i, existing := range list {
			if existing.ID != rec.ID {
				continue
			}
			if rec.VersionVector.Descends(existing.VersionVector) {
				list[i] = rec
			}
			replaced = true
			break
		}
		if !replaced {
			list = append(list, rec)
		}
	}
	return list
}
