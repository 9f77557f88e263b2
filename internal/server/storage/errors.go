package storage

import "errors"

// Common storage errors
var (
	// ErrDeviceNotFound indicates that device was not found in storage
	ErrDeviceNotFound = errors.New("device not found")

	// ErrDeviceAlreadyExists indicates that device with this id or name is already enrolled
	ErrDeviceAlreadyExists = errors.New("device already exists")

	// ErrRecordNotFound indicates that record was not found
	ErrRecordNotFound = errors.New("record not found")

	// ErrIdempotencyMismatch indicates reuse of an idempotency key for another record
	ErrIdempotencyMismatch = errors.New("idempotency key already used for another record")
)
