package boltdb

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"

	"github.com/iudanet/scorekeeper/internal/client/storage"
	"github.com/iudanet/scorekeeper/internal/models"
	"github.com/iudanet/scorekeeper/internal/syncerr"
)

func TestStorage_SaveConflict_MarksRecord(t *testing.T) {
	ctx := context.Background()
	store := createTestStorage(t)

	local := testRecord("score-1", "device-A", 5)
	require.NoError(t, store.PutRecord(ctx, local, map[string]any{"strokes": 5.0}))

	c := &models.ConflictCase{
		ID:                "case-1",
		RecordID:          "score-1",
		Local:             local,
		Remote:            testRecord("score-1", "device-B", 0),
		Outcome:           models.OutcomeNeedsManualResolution,
		Reason:            models.ReasonBothInvalid,
		ConflictingFields: []string{"strokes"},
		DetectedAt:        time.Now().UTC(),
	}
	require.NoError(t, store.SaveConflict(ctx, c))

	got, err := store.GetConflict(ctx, "case-1")
	require.NoError(t, err)
	assert.Equal(t, "score-1", got.RecordID)
	assert.Equal(t, []string{"strokes"}, got.ConflictingFields)

	rec, err := store.GetRecord(ctx, "score-1")
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusConflict, rec.SyncStatus)

	cases, err := store.ListConflicts(ctx)
	require.NoError(t, err)
	assert.Len(t, cases, 1)

	_, err = store.GetConflict(ctx, "case-2")
	assert.ErrorIs(t, err, storage.ErrConflictNotFound)
}

func TestStorage_SaveConflict_CreatesMissingRecord(t *testing.T) {
	ctx := context.Background()
	store := createTestStorage(t)

	local := testRecord("score-1", "device-A", 5)
	require.NoError(t, store.SaveConflict(ctx, &models.ConflictCase{ID: "case-1", RecordID: "score-1", Local: local}))

	rec, err := store.GetRecord(ctx, "score-1")
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusConflict, rec.SyncStatus)
}

func TestStorage_MissingBucketIsStorageFailure(t *testing.T) {
	ctx := context.Background()
	store := createTestStorage(t)

	// Удаляем bucket напрямую
	require.NoError(t, store.db.Update(func(tx *bbolt.Tx) error {
		return tx.DeleteBucket(bucketConflicts)
	}))

	_, err := store.ListConflicts(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, syncerr.ErrStorage)
	assert.Contains(t, err.Error(), "conflicts bucket not found")
}
