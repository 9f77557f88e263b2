package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/iudanet/scorekeeper/internal/client/storage"
	"github.com/iudanet/scorekeeper/internal/crdt"
	"github.com/iudanet/scorekeeper/internal/models"
	"github.com/iudanet/scorekeeper/internal/validation"
)

//go:generate moq -out tracker_mock.go . Tracker

// Tracker фиксирует локальные изменения записей.
// Запись выполняется синхронно в локальное хранилище и никогда не обращается к сети.
type Tracker interface {
	// Update записывает значения полей, создавая запись при первом обращении
	Update(ctx context.Context, recordID, entityType string, fields map[string]any) (*models.Record, error)

	// SetField записывает значение одного поля
	SetField(ctx context.Context, recordID, entityType, field string, value any) (*models.Record, error)

	// Get возвращает текущее локальное состояние записи
	Get(ctx context.Context, recordID string) (*models.Record, error)

	// List возвращает все локальные записи
	List(ctx context.Context) ([]*models.Record, error)

	// Delete удаляет синхронизированную запись
	Delete(ctx context.Context, recordID string) error
}

// Notifier получает сигнал о новом pending change. Вызов не должен блокироваться.
type Notifier interface {
	Notify()
}

// NotifierFunc адаптер функции к Notifier
type NotifierFunc func()

// Notify вызывает f
func (f NotifierFunc) Notify() { f() }

type tracker struct {
	store    storage.RecordStorage
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
	deviceID string
	role     models.Role
}

// Option настраивает tracker
type Option func(*tracker)

// WithClock подменяет источник времени (для тестов)
func WithClock(now func() time.Time) Option {
	return func(t *tracker) { t.now = now }
}

// WithNotifier задает получателя сигналов о новых изменениях
func WithNotifier(n Notifier) Option {
	return func(t *tracker) { t.notifier = n }
}

// New creates a new change tracker for the device
func New(store storage.RecordStorage, deviceID string, role models.Role, logger *slog.Logger, opts ...Option) Tracker {
	t := &tracker{
		store:    store,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
		deviceID: deviceID,
		role:     role,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Update записывает значения полей записи
func (t *tracker) Update(ctx context.Context, recordID, entityType string, fields map[string]any) (*models.Record, error) {
	if err := validation.ValidateRecordID(recordID); err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("no fields to update")
	}
	for name := range fields {
		if err := validation.ValidateFieldName(name); err != nil {
			return nil, err
		}
	}

	// Приводим значения к JSON-виду, чтобы локальное и удаленное состояние сравнивались одинаково
	delta, err := models.NormalizeFields(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to normalize fields: %w", err)
	}

	rec, err := t.store.ModifyRecord(ctx, recordID, func(current *models.Record) (*models.Record, map[string]any, error) {
		next, err := t.apply(current, recordID, entityType, delta)
		if err != nil {
			return nil, nil, err
		}
		return next, delta, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to save record %s: %w", recordID, err)
	}

	t.logger.Debug("Local change recorded",
		"record_id", recordID,
		"fields", len(delta),
		"version", rec.VersionVector.String())

	if t.notifier != nil {
		t.notifier.Notify()
	}

	return rec, nil
}

// SetField записывает значение одного поля
func (t *tracker) SetField(ctx context.Context, recordID, entityType, field string, value any) (*models.Record, error) {
	return t.Update(ctx, recordID, entityType, map[string]any{field: value})
}

// apply строит новое состояние записи: увеличивает счетчик устройства,
// обновляет UpdatedAt и время записи каждого измененного поля
func (t *tracker) apply(current *models.Record, recordID, entityType string, delta map[string]any) (*models.Record, error) {
	var next *models.Record

	if current == nil {
		if entityType == "" {
			return nil, fmt.Errorf("entity type is required for new record %s", recordID)
		}
		next = &models.Record{
			ID:              recordID,
			Type:            entityType,
			Fields:          make(map[string]any, len(delta)),
			FieldWriteTimes: make(map[string]time.Time, len(delta)),
			VersionVector:   crdt.VersionVector{},
		}
	} else {
		if entityType != "" && current.Type != entityType {
			return nil, fmt.Errorf("record %s has type %s, not %s", recordID, current.Type, entityType)
		}
		next = current.Clone()
		if next.FieldWriteTimes == nil {
			next.FieldWriteTimes = make(map[string]time.Time, len(delta))
		}
	}

	now := t.now()
	for field, value := range delta {
		next.Fields[field] = value
		next.FieldWriteTimes[field] = now
	}

	next.VersionVector = next.VersionVector.Increment(t.deviceID)
	next.UpdatedAt = now
	next.WriterDeviceID = t.deviceID
	next.WriterRole = t.role

	return next, nil
}

// Get возвращает текущее локальное состояние записи
func (t *tracker) Get(ctx context.Context, recordID string) (*models.Record, error) {
	rec, err := t.store.GetRecord(ctx, recordID)
	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", err)
	}
	return rec, nil
}

// List возвращает все локальные записи
func (t *tracker) List(ctx context.Context) ([]*models.Record, error) {
	records, err := t.store.ListRecords(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	return records, nil
}

// Delete удаляет синхронизированную запись
func (t *tracker) Delete(ctx context.Context, recordID string) error {
	if err := t.store.DeleteRecord(ctx, recordID); err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	return nil
}
