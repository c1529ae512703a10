package repository

import (
	"context"

	"github.com/recoverops/intake/internal/domain"

	"github.com/google/uuid"
)

// ImportRunRepository is the import run ledger. Claim is the only
// cross-process coordination point in the system and must be a single atomic
// storage operation on the (source_system, source_batch_id, file_hash)
// uniqueness guarantee, never a read-then-write.
type ImportRunRepository interface {
	Claim(ctx context.Context, sourceSystem, sourceBatchID, fileHash, filename, kind string) (domain.ClaimResult, error)
	GetByID(ctx context.Context, id uuid.UUID) (domain.ImportRun, error)
	List(ctx context.Context, limit, offset int) ([]domain.ImportRun, error)

	// Guarded transitions. Each enforces the ledger state machine and returns
	// domain.ErrInvalidTransition on an out-of-order change.
	MarkProcessing(ctx context.Context, id uuid.UUID) error
	MarkCompleted(ctx context.Context, id uuid.UUID, counts domain.RunCounts) error
	// MarkFailed preserves whatever counts accumulated before the failure;
	// partial completion is a valid terminal outcome.
	MarkFailed(ctx context.Context, id uuid.UUID, counts domain.RunCounts, details domain.ErrorDetails) error
	MarkRolledBack(ctx context.Context, id uuid.UUID, reason string) error
}

// RawRecordRepository is the row landing store.
type RawRecordRepository interface {
	// Insert attempts to land an active (pending) row. The insert is atomic on
	// the dedupe-key uniqueness guarantee over active rows; it reports false
	// when a live row with the same key already exists, without mutating it.
	Insert(ctx context.Context, rec domain.RawRecord) (bool, error)

	// Record lands an audit row (skipped or parse_error) unconditionally.
	// Audit rows sit outside the dedupe-key uniqueness guarantee so that every
	// seen row is persisted exactly once, whatever its outcome.
	Record(ctx context.Context, rec domain.RawRecord) error

	ListByRun(ctx context.Context, runID uuid.UUID) ([]domain.RawRecord, error)
	ListByRunAndStatus(ctx context.Context, runID uuid.UUID, status domain.RecordStatus) ([]domain.RawRecord, error)

	// CountsByRun recounts a run's rows grouped by status, straight from
	// storage. Reconciliation depends on this being independent of the
	// pipeline's in-memory counters.
	CountsByRun(ctx context.Context, runID uuid.UUID) (domain.StatusCounts, error)

	MarkPromoted(ctx context.Context, ids []uuid.UUID) error

	// RollBackRun transitions every row owned by the run to rolled_back,
	// regardless of current status, and returns how many rows changed.
	RollBackRun(ctx context.Context, runID uuid.UUID) (int, error)

	// DeleteByRun hard-deletes the run's rows and returns how many were
	// removed. This is the only delete path in the landing store.
	DeleteByRun(ctx context.Context, runID uuid.UUID) (int, error)
}

// PlaintiffRepository is the production record store. The core's only
// contract with it is the dedupe-key natural key: Upsert of an unchanged
// payload is a no-op for downstream readers.
type PlaintiffRepository interface {
	Upsert(ctx context.Context, rec domain.PlaintiffRecord) error
	GetByDedupeKey(ctx context.Context, dedupeKey string) (domain.PlaintiffRecord, error)

	// DeleteByImportRun purges the records this run promoted first. Upsert
	// keeps the original promoter's import_run_id, so a run's purge never
	// reaches records owned by other runs, even when this run saw (and
	// skipped) the same dedupe keys.
	DeleteByImportRun(ctx context.Context, runID uuid.UUID) (int, error)
}
