package storage

import (
	"context"

	"github.com/iudanet/scorekeeper/internal/crdt"
	"github.com/iudanet/scorekeeper/internal/models"
)

// ModifyFunc builds the next state of a record from the current one
type ModifyFunc func(current *models.Record) (next *models.Record, delta map[string]any, err error)

//go:generate moq -out recordstorage_mock.go . RecordStorage

// RecordStorage defines interface for records and the pending change queue on client.
// All methods read fresh state from disk, so callers may restart at any point.
type RecordStorage interface {
	// GetRecord retrieves a record by ID
	// Returns ErrRecordNotFound if record doesn't exist
	GetRecord(ctx context.Context, id string) (*models.Record, error)

	// ListRecords returns all records
	ListRecords(ctx context.Context) ([]*models.Record, error)

	// PutRecord stores the record and, when delta is not nil, enqueues or coalesces
	// its pending change in the same transaction
	PutRecord(ctx context.Context, record *models.Record, delta map[string]any) error

	// ModifyRecord reads the record (nil if missing), lets fn build the new state and
	// its pending delta, and stores both in one transaction. A nil record from fn
	// leaves the store untouched.
	ModifyRecord(ctx context.Context, id string, fn ModifyFunc) (*models.Record, error)

	// ListPending returns pending changes in FIFO order
	ListPending(ctx context.Context) ([]*models.PendingChange, error)

	// GetPending returns pending change of the record
	// Returns ErrPendingNotFound if record has nothing to push
	GetPending(ctx context.Context, recordID string) (*models.PendingChange, error)

	// UpdatePending stores attempt bookkeeping of a pending change
	UpdatePending(ctx context.Context, change *models.PendingChange) error

	// AckPending removes the pending change if its idempotency key still matches and
	// marks the record synced at serverVersion. Returns false if the change was
	// coalesced with a newer local edit in the meantime.
	AckPending(ctx context.Context, recordID, idempotencyKey string, serverVersion crdt.VersionVector) (bool, error)

	// MarkSynced marks the record as confirmed by the remote store at remoteVersion
	MarkSynced(ctx context.Context, id string, remoteVersion crdt.VersionVector) error

	// ApplyRemote replaces local state with a remote record that dominates it
	// and drops the record's pending change.
	// Returns ErrStaleRecord if local state moved past the remote version meanwhile.
	ApplyRemote(ctx context.Context, record *models.Record) error

	// SetSyncStatus updates sync status and last error of the record
	SetSyncStatus(ctx context.Context, id string, status models.SyncStatus, lastError string) error

	// PendingCount returns number of pending changes
	PendingCount(ctx context.Context) (int, error)

	// DeleteRecord removes a synced record
	// Returns ErrUnsyncedRecord if the record is pending or in conflict
	DeleteRecord(ctx context.Context, id string) error
}
