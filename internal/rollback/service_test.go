package rollback

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

type fixture struct {
	runs       *repository.MemoryImportRunStore
	landing    *repository.MemoryRawRecordStore
	plaintiffs *repository.MemoryPlaintiffStore
	service    *Service
}

func newFixture() *fixture {
	f := &fixture{
		runs:       repository.NewMemoryImportRunStore(),
		landing:    repository.NewMemoryRawRecordStore(),
		plaintiffs: repository.NewMemoryPlaintiffStore(),
	}
	f.service = NewService(f.runs, f.landing, f.plaintiffs, nil)
	return f
}

// seedCompletedRun lands two rows plus a skipped audit row and completes the
// run.
func (f *fixture) seedCompletedRun(t *testing.T, batchID string) uuid.UUID {
	t.Helper()
	ctx := context.Background()

	claim, err := f.runs.Claim(ctx, "vendorA", batchID, "hash-"+batchID, "batch.csv", "plaintiffs")
	require.NoError(t, err)
	require.NoError(t, f.runs.MarkProcessing(ctx, claim.RunID))

	for i, key := range []string{"key-" + batchID + "-a", "key-" + batchID + "-b"} {
		inserted, err := f.landing.Insert(ctx, domain.RawRecord{
			ImportRunID:  claim.RunID,
			RowIndex:     i,
			DedupeKey:    key,
			SourceSystem: "vendorA",
			Name:         "Person",
		})
		require.NoError(t, err)
		require.True(t, inserted)
	}
	require.NoError(t, f.landing.Record(ctx, domain.RawRecord{
		ImportRunID: claim.RunID,
		RowIndex:    2,
		DedupeKey:   "key-" + batchID + "-a",
		Status:      domain.RecordStatusSkipped,
	}))

	require.NoError(t, f.runs.MarkCompleted(ctx, claim.RunID, domain.RunCounts{Fetched: 3, Inserted: 2, Skipped: 1}))
	return claim.RunID
}

func TestRollbackCompletedRun(t *testing.T) {
	f := newFixture()
	runID := f.seedCompletedRun(t, "b1")
	ctx := context.Background()

	result, err := f.service.Rollback(ctx, runID, "bad vendor extract")
	require.NoError(t, err)

	assert.Equal(t, domain.RunStatusRolledBack, result.Status)
	assert.Equal(t, "bad vendor extract", result.Reason)
	assert.Equal(t, 3, result.RowsRolledBack)
	assert.False(t, result.AlreadyRolled)

	run, err := f.runs.GetByID(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusRolledBack, run.Status)
	require.NotNil(t, run.ErrorDetails)
	assert.Equal(t, "bad vendor extract", run.ErrorDetails.RollbackReason)

	counts, err := f.landing.CountsByRun(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, 3, counts.RolledBack)
	assert.Equal(t, 0, counts.Pending)
}

func TestRollbackFreesDedupeKeys(t *testing.T) {
	f := newFixture()
	runID := f.seedCompletedRun(t, "b1")
	ctx := context.Background()

	_, err := f.service.Rollback(ctx, runID, "re-import needed")
	require.NoError(t, err)

	// A corrected batch may now re-land the same logical records.
	inserted, err := f.landing.Insert(ctx, domain.RawRecord{
		ImportRunID:  uuid.New(),
		DedupeKey:    "key-b1-a",
		SourceSystem: "vendorA",
		Name:         "Person",
	})
	require.NoError(t, err)
	assert.True(t, inserted)
}

func TestRollbackIsIdempotent(t *testing.T) {
	f := newFixture()
	runID := f.seedCompletedRun(t, "b1")
	ctx := context.Background()

	_, err := f.service.Rollback(ctx, runID, "original reason")
	require.NoError(t, err)

	again, err := f.service.Rollback(ctx, runID, "different reason")
	require.NoError(t, err)
	assert.True(t, again.AlreadyRolled)
	assert.Equal(t, "original reason", again.Reason)
	assert.Equal(t, 0, again.RowsRolledBack)
}

func TestRollbackRejectsUnfinishedRun(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	claim, err := f.runs.Claim(ctx, "vendorA", "b1", "hash", "batch.csv", "plaintiffs")
	require.NoError(t, err)

	_, err = f.service.Rollback(ctx, claim.RunID, "too early")
	assert.True(t, errors.Is(err, domain.ErrInvalidState))

	require.NoError(t, f.runs.MarkProcessing(ctx, claim.RunID))
	_, err = f.service.Rollback(ctx, claim.RunID, "still too early")
	assert.True(t, errors.Is(err, domain.ErrInvalidState))
}

func TestRollbackFailedRun(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	claim, err := f.runs.Claim(ctx, "vendorA", "b1", "hash", "batch.csv", "plaintiffs")
	require.NoError(t, err)
	require.NoError(t, f.runs.MarkProcessing(ctx, claim.RunID))
	require.NoError(t, f.runs.MarkFailed(ctx, claim.RunID, domain.RunCounts{Fetched: 5, Inserted: 2}, domain.ErrorDetails{
		Code:    "storage_unavailable",
		Message: "connection refused",
	}))

	result, err := f.service.Rollback(ctx, claim.RunID, "clean up partial batch")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusRolledBack, result.Status)
}

func TestHardDeleteRequiresConfirmation(t *testing.T) {
	f := newFixture()
	runID := f.seedCompletedRun(t, "b1")

	_, err := f.service.HardDelete(context.Background(), runID, false)
	assert.True(t, errors.Is(err, ErrConfirmationRequired))
}

func TestHardDeleteRequiresSoftRollbackFirst(t *testing.T) {
	f := newFixture()
	runID := f.seedCompletedRun(t, "b1")

	_, err := f.service.HardDelete(context.Background(), runID, true)
	assert.True(t, errors.Is(err, domain.ErrInvalidState))
}

func TestHardDeletePurgesPromotedRecords(t *testing.T) {
	f := newFixture()
	runID := f.seedCompletedRun(t, "b1")
	ctx := context.Background()

	// Simulate a prior promotion pass.
	require.NoError(t, f.plaintiffs.Upsert(ctx, domain.PlaintiffRecord{DedupeKey: "key-b1-a", Name: "Person", ImportRunID: runID}))
	require.NoError(t, f.plaintiffs.Upsert(ctx, domain.PlaintiffRecord{DedupeKey: "key-b1-b", Name: "Person", ImportRunID: runID}))

	_, err := f.service.Rollback(ctx, runID, "purge batch")
	require.NoError(t, err)

	result, err := f.service.HardDelete(ctx, runID, true)
	require.NoError(t, err)
	assert.Equal(t, 3, result.RowsDeleted)
	assert.Equal(t, 2, result.PlaintiffsPurged)
	assert.Equal(t, 0, f.plaintiffs.Len())

	counts, err := f.landing.CountsByRun(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, 0, counts.Total)
}

func TestHardDeleteLeavesOtherRunsRecords(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	// Run A promoted the record.
	runA := f.seedCompletedRun(t, "a")
	require.NoError(t, f.plaintiffs.Upsert(ctx, domain.PlaintiffRecord{DedupeKey: "key-a-a", Name: "Person", ImportRunID: runA}))

	// Run B merely saw the same record and skipped it on the dedupe conflict.
	claim, err := f.runs.Claim(ctx, "vendorA", "b", "hash-b", "batch.csv", "plaintiffs")
	require.NoError(t, err)
	runB := claim.RunID
	require.NoError(t, f.runs.MarkProcessing(ctx, runB))
	require.NoError(t, f.landing.Record(ctx, domain.RawRecord{
		ImportRunID: runB,
		RowIndex:    0,
		DedupeKey:   "key-a-a",
		Status:      domain.RecordStatusSkipped,
	}))
	require.NoError(t, f.runs.MarkCompleted(ctx, runB, domain.RunCounts{Fetched: 1, Skipped: 1}))

	_, err = f.service.Rollback(ctx, runB, "wrong vendor file")
	require.NoError(t, err)

	result, err := f.service.HardDelete(ctx, runB, true)
	require.NoError(t, err)
	assert.Equal(t, 1, result.RowsDeleted)
	assert.Equal(t, 0, result.PlaintiffsPurged, "run B never promoted the record, so it must not purge it")

	// Run A's production record survives run B's purge.
	rec, err := f.plaintiffs.GetByDedupeKey(ctx, "key-a-a")
	require.NoError(t, err)
	assert.Equal(t, runA, rec.ImportRunID)
}
