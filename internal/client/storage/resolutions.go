package storage

import (
	"context"

	"github.com/iudanet/scorekeeper/internal/crdt"
	"github.com/iudanet/scorekeeper/internal/models"
)

//go:generate moq -out resolutionlog_mock.go . ResolutionLog

// ResolutionLog defines interface for the append-only conflict resolution journal.
// Entries are never rewritten.
type ResolutionLog interface {
	// AppendResolution appends an entry to the journal
	AppendResolution(ctx context.Context, entry *models.ResolutionLogEntry) error

	// QueryResolutions returns entries of the record in append order
	QueryResolutions(ctx context.Context, recordID string) ([]*models.ResolutionLogEntry, error)

	// ListResolutions returns all entries ordered by record, then append order
	ListResolutions(ctx context.Context) ([]*models.ResolutionLogEntry, error)

	// CommitResolution stores the resolved record with its pending delta, appends the
	// journal entry and removes the conflict case (if conflictID is set) atomically.
	// Returns ErrStaleRecord if the local version vector no longer equals expected.
	CommitResolution(ctx context.Context, record *models.Record, delta map[string]any, entry *models.ResolutionLogEntry, conflictID string, expected crdt.VersionVector) error
}

//go:generate moq -out conflictstorage_mock.go . ConflictStorage

// ConflictStorage defines interface for conflict cases awaiting manual resolution.
// At most one open case exists per record.
type ConflictStorage interface {
	// SaveConflict stores the case and marks its record as conflict in one transaction
	SaveConflict(ctx context.Context, c *models.ConflictCase) error

	// GetConflict retrieves a case by ID
	// Returns ErrConflictNotFound if case doesn't exist
	GetConflict(ctx context.Context, id string) (*models.ConflictCase, error)

	// ListConflicts returns all open cases
	ListConflicts(ctx context.Context) ([]*models.ConflictCase, error)
}
