// Package rollback reverses a finished import run. The default soft rollback
// flips statuses and keeps every row for audit; the hard path, gated behind
// an explicit confirmation, is the only thing in the system that deletes.
package rollback

import (
	"context"
	"errors"
	"fmt"

	"github.com/recoverops/intake/internal/domain"
	"github.com/recoverops/intake/internal/metrics"
	"github.com/recoverops/intake/internal/repository"

	"github.com/google/uuid"
)

// ErrConfirmationRequired gates the hard-delete path behind an explicit
// operator acknowledgement.
var ErrConfirmationRequired = errors.New("hard rollback requires explicit confirmation")

// Result reports what the rollback did.
type Result struct {
	RunID          uuid.UUID        `json:"run_id"`
	Status         domain.RunStatus `json:"status"`
	Reason         string           `json:"reason"`
	RowsRolledBack int              `json:"rows_rolled_back"`
	AlreadyRolled  bool             `json:"already_rolled_back"`
}

// HardResult reports the irreversible deletion path.
type HardResult struct {
	RunID            uuid.UUID `json:"run_id"`
	RowsDeleted      int       `json:"rows_deleted"`
	PlaintiffsPurged int       `json:"plaintiffs_purged"`
}

type Service struct {
	runs       repository.ImportRunRepository
	landing    repository.RawRecordRepository
	plaintiffs repository.PlaintiffRepository
	metrics    *metrics.Metrics
}

func NewService(runs repository.ImportRunRepository, landing repository.RawRecordRepository, plaintiffs repository.PlaintiffRepository, m *metrics.Metrics) *Service {
	return &Service{runs: runs, landing: landing, plaintiffs: plaintiffs, metrics: m}
}

// Rollback soft-rolls a completed or failed run: the run flips to
// rolled_back with the reason stored, and every owned row, whatever its
// current status, follows. Promoted production records are left in place;
// enrichment may have mutated them since promotion, so deleting them is the
// separate hard path. Idempotent: rolling back a rolled-back run returns the
// recorded reason without erroring.
func (s *Service) Rollback(ctx context.Context, runID uuid.UUID, reason string) (Result, error) {
	run, err := s.runs.GetByID(ctx, runID)
	if err != nil {
		return Result{}, err
	}

	if run.Status == domain.RunStatusRolledBack {
		existing := reason
		if run.ErrorDetails != nil && run.ErrorDetails.RollbackReason != "" {
			existing = run.ErrorDetails.RollbackReason
		}
		return Result{RunID: runID, Status: run.Status, Reason: existing, AlreadyRolled: true}, nil
	}

	if run.Status != domain.RunStatusCompleted && run.Status != domain.RunStatusFailed {
		return Result{}, fmt.Errorf("%w: run %s is %s", domain.ErrInvalidState, runID, run.Status)
	}

	if err := s.runs.MarkRolledBack(ctx, runID, reason); err != nil {
		return Result{}, fmt.Errorf("failed to roll back run: %w", err)
	}

	changed, err := s.landing.RollBackRun(ctx, runID)
	if err != nil {
		return Result{}, fmt.Errorf("failed to roll back landing rows: %w", err)
	}

	s.metrics.IncRolledBack()

	return Result{
		RunID:          runID,
		Status:         domain.RunStatusRolledBack,
		Reason:         reason,
		RowsRolledBack: changed,
	}, nil
}

// HardDelete purges the run's landing rows and the production records the run
// originally promoted. Records first promoted by other runs are untouched,
// even when this run landed or skipped the same dedupe keys. Irreversible;
// the run must already be soft rolled back and the caller must pass
// confirm=true.
func (s *Service) HardDelete(ctx context.Context, runID uuid.UUID, confirm bool) (HardResult, error) {
	if !confirm {
		return HardResult{}, ErrConfirmationRequired
	}

	run, err := s.runs.GetByID(ctx, runID)
	if err != nil {
		return HardResult{}, err
	}
	if run.Status != domain.RunStatusRolledBack {
		return HardResult{}, fmt.Errorf("%w: hard delete requires a rolled_back run, got %s", domain.ErrInvalidState, run.Status)
	}

	deleted, err := s.landing.DeleteByRun(ctx, runID)
	if err != nil {
		return HardResult{}, fmt.Errorf("failed to delete landing rows: %w", err)
	}

	purged, err := s.plaintiffs.DeleteByImportRun(ctx, runID)
	if err != nil {
		return HardResult{}, fmt.Errorf("failed to purge production records: %w", err)
	}

	return HardResult{RunID: runID, RowsDeleted: deleted, PlaintiffsPurged: purged}, nil
}
