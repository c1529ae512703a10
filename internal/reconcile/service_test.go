package reconcile

import (
	"context"
	"errors"
	"testing"

	"github.com/recoverops/intake/internal/domain"
	"github.com/recoverops/intake/internal/repository"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seedCompletedRun lands two inserted rows and one skipped audit row, then
// completes the run with matching counters.
func seedCompletedRun(t *testing.T, runs *repository.MemoryImportRunStore, landing *repository.MemoryRawRecordStore) uuid.UUID {
	t.Helper()
	ctx := context.Background()

	claim, err := runs.Claim(ctx, "vendorA", "batch-1", "hash-1", "batch.csv", "plaintiffs")
	require.NoError(t, err)
	require.NoError(t, runs.MarkProcessing(ctx, claim.RunID))

	for i, key := range []string{"key-a", "key-b"} {
		inserted, err := landing.Insert(ctx, domain.RawRecord{
			ImportRunID:  claim.RunID,
			RowIndex:     i,
			DedupeKey:    key,
			SourceSystem: "vendorA",
			Name:         "Person",
		})
		require.NoError(t, err)
		require.True(t, inserted)
	}
	require.NoError(t, landing.Record(ctx, domain.RawRecord{
		ImportRunID:  claim.RunID,
		RowIndex:     2,
		DedupeKey:    "key-a",
		SourceSystem: "vendorA",
		Status:       domain.RecordStatusSkipped,
	}))

	require.NoError(t, runs.MarkCompleted(ctx, claim.RunID, domain.RunCounts{
		Fetched:  3,
		Inserted: 2,
		Skipped:  1,
	}))
	return claim.RunID
}

func TestReconcileCleanRun(t *testing.T) {
	runs := repository.NewMemoryImportRunStore()
	landing := repository.NewMemoryRawRecordStore()
	runID := seedCompletedRun(t, runs, landing)

	result, err := NewService(runs, landing).Reconcile(context.Background(), runID)
	require.NoError(t, err)

	assert.True(t, result.IsReconciled)
	assert.Empty(t, result.Discrepancies)
	assert.Equal(t, 3, result.ActualTotal)
	assert.Equal(t, 2, result.ActualPromoted)
	assert.Equal(t, 1, result.ActualSkipped)
	assert.Equal(t, domain.RunStatusCompleted, result.RunStatus)
}

func TestReconcileDetectsDrift(t *testing.T) {
	runs := repository.NewMemoryImportRunStore()
	landing := repository.NewMemoryRawRecordStore()
	runID := seedCompletedRun(t, runs, landing)
	ctx := context.Background()

	// A row landed outside the pipeline's accounting, as a crash between the
	// landing write and the counter write would leave behind.
	require.NoError(t, landing.Record(ctx, domain.RawRecord{
		ImportRunID: runID,
		RowIndex:    3,
		DedupeKey:   "key-c",
		Status:      domain.RecordStatusSkipped,
	}))

	result, err := NewService(runs, landing).Reconcile(ctx, runID)
	require.NoError(t, err)

	assert.False(t, result.IsReconciled)
	require.Len(t, result.Discrepancies, 2)

	byField := map[string]Discrepancy{}
	for _, d := range result.Discrepancies {
		byField[d.Field] = d
	}
	fetched := byField["rows_fetched"]
	assert.Equal(t, 3, fetched.Reported)
	assert.Equal(t, 4, fetched.Actual)
	assert.Equal(t, 1, fetched.Delta)
	skipped := byField["rows_skipped"]
	assert.Equal(t, 1, skipped.Reported)
	assert.Equal(t, 2, skipped.Actual)
}

func TestReconcileReadOnly(t *testing.T) {
	runs := repository.NewMemoryImportRunStore()
	landing := repository.NewMemoryRawRecordStore()
	runID := seedCompletedRun(t, runs, landing)
	ctx := context.Background()

	_, err := NewService(runs, landing).Reconcile(ctx, runID)
	require.NoError(t, err)

	run, err := runs.GetByID(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCompleted, run.Status)

	counts, err := landing.CountsByRun(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, 3, counts.Total)
}

func TestReconcileRolledBackRunShowsInsertedDrift(t *testing.T) {
	runs := repository.NewMemoryImportRunStore()
	landing := repository.NewMemoryRawRecordStore()
	runID := seedCompletedRun(t, runs, landing)
	ctx := context.Background()

	require.NoError(t, runs.MarkRolledBack(ctx, runID, "bad vendor extract"))
	_, err := landing.RollBackRun(ctx, runID)
	require.NoError(t, err)

	// The counters describe what the run did at the time; after a rollback the
	// live recount legitimately disagrees. Callers read RunStatus to tell the
	// two cases apart.
	result, err := NewService(runs, landing).Reconcile(ctx, runID)
	require.NoError(t, err)
	assert.False(t, result.IsReconciled)
	assert.Equal(t, domain.RunStatusRolledBack, result.RunStatus)
	assert.Equal(t, 0, result.ActualPromoted)
}

func TestReconcileUnknownRun(t *testing.T) {
	service := NewService(repository.NewMemoryImportRunStore(), repository.NewMemoryRawRecordStore())

	_, err := service.Reconcile(context.Background(), uuid.New())
	assert.True(t, errors.Is(err, domain.ErrRunNotFound))
}
