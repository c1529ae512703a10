// Package promote moves pending landing rows into the production plaintiff
// store. The dedupe key is the natural key, so promoting the same logical
// record again upserts instead of duplicating, and replaying an unchanged
// batch is a no-op. After a batch's rows become visible as promoted, one
// opaque job descriptor is handed to the external queue; what downstream
// enrichment does with it is not the core's concern.
package promote

import (
	"context"
	"fmt"

	"github.com/recoverops/intake/internal/domain"
	"github.com/recoverops/intake/internal/jobs"
	"github.com/recoverops/intake/internal/repository"

	"github.com/google/uuid"
)

// Result reports how many rows a promotion pass moved.
type Result struct {
	RunID    uuid.UUID `json:"run_id"`
	Promoted int       `json:"promoted"`
}

type Service struct {
	runs       repository.ImportRunRepository
	landing    repository.RawRecordRepository
	plaintiffs repository.PlaintiffRepository
	publisher  jobs.Publisher
}

func NewService(runs repository.ImportRunRepository, landing repository.RawRecordRepository, plaintiffs repository.PlaintiffRepository, publisher jobs.Publisher) *Service {
	return &Service{runs: runs, landing: landing, plaintiffs: plaintiffs, publisher: publisher}
}

// PromoteRun upserts every pending row of the run into the plaintiff store
// and marks it promoted. Safe to call again: a second pass finds no pending
// rows and publishes nothing.
func (s *Service) PromoteRun(ctx context.Context, runID uuid.UUID) (Result, error) {
	run, err := s.runs.GetByID(ctx, runID)
	if err != nil {
		return Result{}, err
	}

	pending, err := s.landing.ListByRunAndStatus(ctx, runID, domain.RecordStatusPending)
	if err != nil {
		return Result{}, fmt.Errorf("failed to list pending rows: %w", err)
	}
	if len(pending) == 0 {
		return Result{RunID: runID}, nil
	}

	promoted := make([]uuid.UUID, 0, len(pending))
	for _, rec := range pending {
		err := s.plaintiffs.Upsert(ctx, domain.PlaintiffRecord{
			DedupeKey:    rec.DedupeKey,
			SourceSystem: rec.SourceSystem,
			Name:         rec.Name,
			Email:        rec.Email,
			Attributes:   rec.Raw,
			ImportRunID:  runID,
		})
		if err != nil {
			// Rows promoted so far stay promoted; mark them before surfacing
			// the failure so the landing store reflects what actually happened.
			if markErr := s.landing.MarkPromoted(ctx, promoted); markErr != nil {
				return Result{}, fmt.Errorf("failed to mark promoted rows after upsert error %v: %w", err, markErr)
			}
			return Result{RunID: runID, Promoted: len(promoted)}, fmt.Errorf("failed to promote row %d: %w", rec.RowIndex, err)
		}
		promoted = append(promoted, rec.ID)
	}

	if err := s.landing.MarkPromoted(ctx, promoted); err != nil {
		return Result{}, fmt.Errorf("failed to mark rows promoted: %w", err)
	}

	descriptor := jobs.Descriptor{
		JobType:     "enrich_batch",
		ImportRunID: runID,
		Kind:        run.Kind,
		Promoted:    len(promoted),
	}
	if err := s.publisher.Publish(ctx, descriptor); err != nil {
		return Result{}, fmt.Errorf("failed to enqueue enrichment job: %w", err)
	}

	return Result{RunID: runID, Promoted: len(promoted)}, nil
}
