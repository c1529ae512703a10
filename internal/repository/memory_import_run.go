package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/recoverops/intake/internal/domain"

	"github.com/google/uuid"
)

// MemoryImportRunStore is an in-memory ledger with the same claim and
// transition semantics as the Postgres implementation. Used by service tests
// and by callers that want to dry-wire the pipeline without a database.
type MemoryImportRunStore struct {
	mu       sync.Mutex
	runs     map[uuid.UUID]*domain.ImportRun
	byTriple map[string]uuid.UUID
}

func NewMemoryImportRunStore() *MemoryImportRunStore {
	return &MemoryImportRunStore{
		runs:     make(map[uuid.UUID]*domain.ImportRun),
		byTriple: make(map[string]uuid.UUID),
	}
}

func tripleKey(sourceSystem, sourceBatchID, fileHash string) string {
	return sourceSystem + "\x00" + sourceBatchID + "\x00" + fileHash
}

func (s *MemoryImportRunStore) Claim(_ context.Context, sourceSystem, sourceBatchID, fileHash, filename, kind string) (domain.ClaimResult, error) {
	if err := validateClaimArgs(sourceSystem, sourceBatchID, fileHash, filename); err != nil {
		return domain.ClaimResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := tripleKey(sourceSystem, sourceBatchID, fileHash)
	if priorID, exists := s.byTriple[key]; exists {
		return domain.ClaimResult{Status: domain.ClaimStatusDuplicate, RunID: priorID}, nil
	}

	run := &domain.ImportRun{
		ID:            uuid.New(),
		SourceSystem:  sourceSystem,
		SourceBatchID: sourceBatchID,
		FileHash:      fileHash,
		Filename:      filename,
		Kind:          kind,
		Status:        domain.RunStatusClaimed,
		StartedAt:     time.Now(),
	}
	s.runs[run.ID] = run
	s.byTriple[key] = run.ID

	return domain.ClaimResult{Status: domain.ClaimStatusClaimed, RunID: run.ID}, nil
}

func (s *MemoryImportRunStore) GetByID(_ context.Context, id uuid.UUID) (domain.ImportRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, exists := s.runs[id]
	if !exists {
		return domain.ImportRun{}, domain.ErrRunNotFound
	}
	return *run, nil
}

func (s *MemoryImportRunStore) List(_ context.Context, limit, offset int) ([]domain.ImportRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	runs := make([]domain.ImportRun, 0, len(s.runs))
	for _, run := range s.runs {
		runs = append(runs, *run)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].StartedAt.After(runs[j].StartedAt) })

	if offset >= len(runs) {
		return []domain.ImportRun{}, nil
	}
	runs = runs[offset:]
	if len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

func (s *MemoryImportRunStore) MarkProcessing(_ context.Context, id uuid.UUID) error {
	return s.transition(id, domain.RunStatusProcessing, func(run *domain.ImportRun) {})
}

func (s *MemoryImportRunStore) MarkCompleted(_ context.Context, id uuid.UUID, counts domain.RunCounts) error {
	return s.transition(id, domain.RunStatusCompleted, func(run *domain.ImportRun) {
		run.RowsFetched = counts.Fetched
		run.RowsInserted = counts.Inserted
		run.RowsSkipped = counts.Skipped
		run.RowsErrored = counts.Errored
		now := time.Now()
		run.FinishedAt = &now
	})
}

func (s *MemoryImportRunStore) MarkFailed(_ context.Context, id uuid.UUID, counts domain.RunCounts, details domain.ErrorDetails) error {
	return s.transition(id, domain.RunStatusFailed, func(run *domain.ImportRun) {
		run.RowsFetched = counts.Fetched
		run.RowsInserted = counts.Inserted
		run.RowsSkipped = counts.Skipped
		run.RowsErrored = counts.Errored
		d := details
		run.ErrorDetails = &d
		now := time.Now()
		run.FinishedAt = &now
	})
}

func (s *MemoryImportRunStore) MarkRolledBack(_ context.Context, id uuid.UUID, reason string) error {
	return s.transition(id, domain.RunStatusRolledBack, func(run *domain.ImportRun) {
		if run.ErrorDetails == nil {
			run.ErrorDetails = &domain.ErrorDetails{}
		}
		run.ErrorDetails.RollbackReason = reason
		if run.FinishedAt == nil {
			now := time.Now()
			run.FinishedAt = &now
		}
	})
}

func (s *MemoryImportRunStore) transition(id uuid.UUID, to domain.RunStatus, apply func(*domain.ImportRun)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, exists := s.runs[id]
	if !exists {
		return domain.ErrRunNotFound
	}
	if !domain.CanTransition(run.Status, to) {
		return fmt.Errorf("%w: run %s is %s", domain.ErrInvalidTransition, id, run.Status)
	}
	run.Status = to
	apply(run)
	return nil
}
