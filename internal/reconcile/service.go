// Package reconcile independently recounts a run's landing rows and compares
// them against the ledger's self-reported counters. The counters are written
// by the same code path that lands the rows, so only a recount straight from
// storage can catch a crash or a bug desynchronizing them.
package reconcile

import (
	"context"
	"fmt"

	"github.com/recoverops/intake/internal/domain"
	"github.com/recoverops/intake/internal/repository"

	"github.com/google/uuid"
)

// Discrepancy is one counter that disagrees with the recount.
type Discrepancy struct {
	Field    string `json:"field"`
	Reported int    `json:"reported"`
	Actual   int    `json:"actual"`
	Delta    int    `json:"delta"`
}

// Result reports the recount next to the self-reported counters.
type Result struct {
	RunID            uuid.UUID        `json:"run_id"`
	RunStatus        domain.RunStatus `json:"run_status"`
	IsReconciled     bool             `json:"is_reconciled"`
	ActualTotal      int              `json:"actual_total"`
	ActualPromoted   int              `json:"actual_promoted"`
	ActualSkipped    int              `json:"actual_skipped"`
	ActualParseError int              `json:"actual_parse_error"`
	Discrepancies    []Discrepancy    `json:"discrepancies,omitempty"`
}

// Service is read-only; it never mutates the ledger or the landing store.
type Service struct {
	runs    repository.ImportRunRepository
	landing repository.RawRecordRepository
}

func NewService(runs repository.ImportRunRepository, landing repository.RawRecordRepository) *Service {
	return &Service{runs: runs, landing: landing}
}

// Reconcile recounts the run's rows grouped by status and diffs them against
// the run's counters. IsReconciled is true iff every discrepancy is zero.
func (s *Service) Reconcile(ctx context.Context, runID uuid.UUID) (Result, error) {
	run, err := s.runs.GetByID(ctx, runID)
	if err != nil {
		return Result{}, fmt.Errorf("failed to load run: %w", err)
	}

	counts, err := s.landing.CountsByRun(ctx, runID)
	if err != nil {
		return Result{}, fmt.Errorf("failed to recount landing rows: %w", err)
	}

	// Live rows (pending/processing/promoted) are what the pipeline reported
	// as inserted; skipped and parse_error map one to one.
	actualPromoted := counts.Pending + counts.Processing + counts.Promoted

	result := Result{
		RunID:            runID,
		RunStatus:        run.Status,
		ActualTotal:      counts.Total,
		ActualPromoted:   actualPromoted,
		ActualSkipped:    counts.Skipped,
		ActualParseError: counts.ParseError,
	}

	result.diff("rows_fetched", run.RowsFetched, counts.Total)
	result.diff("rows_inserted", run.RowsInserted, actualPromoted)
	result.diff("rows_skipped", run.RowsSkipped, counts.Skipped)
	result.diff("rows_errored", run.RowsErrored, counts.ParseError)

	result.IsReconciled = len(result.Discrepancies) == 0
	return result, nil
}

func (r *Result) diff(field string, reported, actual int) {
	if reported == actual {
		return
	}
	r.Discrepancies = append(r.Discrepancies, Discrepancy{
		Field:    field,
		Reported: reported,
		Actual:   actual,
		Delta:    actual - reported,
	})
}
