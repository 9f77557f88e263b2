package storage

import "errors"

// Common client storage errors
var (
	// ErrRecordNotFound indicates that record was not found
	ErrRecordNotFound = errors.New("record not found")

	// ErrPendingNotFound indicates that record has no pending change
	ErrPendingNotFound = errors.New("pending change not found")

	// ErrConflictNotFound indicates that conflict case was not found
	ErrConflictNotFound = errors.New("conflict case not found")

	// ErrIdentityNotFound indicates that device has not been enrolled yet
	ErrIdentityNotFound = errors.New("device identity not found")

	// ErrUnsyncedRecord indicates an attempt to delete a record with unsynced or conflicting changes
	ErrUnsyncedRecord = errors.New("record has unsynced changes")

	// ErrStaleRecord indicates that the record changed since the caller read it
	ErrStaleRecord = errors.New("record changed concurrently")

	// ErrStorageClosed indicates that storage is closed
	ErrStorageClosed = errors.New("storage is closed")
)
