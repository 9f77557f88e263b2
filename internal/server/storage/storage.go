// Package storage определяет хранилище удаленной стороны синхронизации:
// текущее состояние записей, журнал принятых изменений с порядковыми
// номерами и зарегистрированные устройства.
package storage

import (
	"context"
	"time"

	"github.com/iudanet/scorekeeper/internal/crdt"
	"github.com/iudanet/scorekeeper/internal/models"
)

// Change изменение записи из входящего push
type Change struct {
	UpdatedAt       time.Time
	Delta           map[string]any // nil значение удаляет поле
	FieldWriteTimes map[string]time.Time
	VersionVector   crdt.VersionVector
	ID              string
	Type            string
	IdempotencyKey  string
	WriterDeviceID  string
	WriterRole      models.Role
}

// Outcome результат применения изменения
type Outcome struct {
	Record   *models.Record // состояние записи после применения или текущее при конфликте
	Seq      uint64         // номер изменения в журнале (0 при конфликте)
	Accepted bool
}

// ChangeEntry запись журнала принятых изменений
type ChangeEntry struct {
	ChangedAt time.Time
	Record    *models.Record
	Seq       uint64
}

// GuardFunc проверяет изменение против текущего состояния записи внутри
// транзакции. current равен nil для новой записи. Ошибка отменяет применение.
type GuardFunc func(current *models.Record, change *Change) error

//go:generate moq -out recordstorage_mock.go . RecordStorage

// RecordStorage defines interface for the authoritative record state on server
type RecordStorage interface {
	// ApplyChange applies one pushed change in a single transaction.
	// A replayed idempotency key returns the stored outcome without applying again.
	// The change is accepted when its version vector descends the stored one,
	// otherwise the outcome carries the current record and Accepted is false.
	ApplyChange(ctx context.Context, change *Change, guard GuardFunc) (*Outcome, error)

	// GetRecord retrieves the current state of a record
	// Returns ErrRecordNotFound if record doesn't exist
	GetRecord(ctx context.Context, id string) (*models.Record, error)

	// ChangesSince returns accepted changes with seq > cursor in seq order, at most limit
	ChangesSince(ctx context.Context, cursor uint64, limit int) ([]*ChangeEntry, error)
}

//go:generate moq -out devicestorage_mock.go . DeviceStorage

// DeviceStorage defines interface for enrolled devices
type DeviceStorage interface {
	// CreateDevice stores a new device
	// Returns ErrDeviceAlreadyExists if device id or name is taken
	CreateDevice(ctx context.Context, device *models.Device) error

	// GetDevice retrieves device by ID
	// Returns ErrDeviceNotFound if device doesn't exist
	GetDevice(ctx context.Context, id string) (*models.Device, error)
}
