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

// MemoryRawRecordStore is an in-memory landing store. It mirrors the Postgres
// partial unique index: only active rows (pending/processing/promoted) hold
// the dedupe key; audit rows land unconditionally.
type MemoryRawRecordStore struct {
	mu          sync.Mutex
	records     map[uuid.UUID]*domain.RawRecord
	activeByKey map[string]uuid.UUID
}

func NewMemoryRawRecordStore() *MemoryRawRecordStore {
	return &MemoryRawRecordStore{
		records:     make(map[uuid.UUID]*domain.RawRecord),
		activeByKey: make(map[string]uuid.UUID),
	}
}

func (s *MemoryRawRecordStore) Insert(_ context.Context, rec domain.RawRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.activeByKey[rec.DedupeKey]; exists {
		return false, nil
	}

	stored := rec
	if stored.ID == uuid.Nil {
		stored.ID = uuid.New()
	}
	stored.Status = domain.RecordStatusPending
	stored.CreatedAt = time.Now()

	s.records[stored.ID] = &stored
	s.activeByKey[stored.DedupeKey] = stored.ID
	return true, nil
}

func (s *MemoryRawRecordStore) Record(_ context.Context, rec domain.RawRecord) error {
	if rec.Status.Active() {
		return fmt.Errorf("audit insert requires a non-active status, got %s", rec.Status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := rec
	if stored.ID == uuid.Nil {
		stored.ID = uuid.New()
	}
	stored.CreatedAt = time.Now()
	s.records[stored.ID] = &stored
	return nil
}

func (s *MemoryRawRecordStore) ListByRun(_ context.Context, runID uuid.UUID) ([]domain.RawRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.collect(runID, ""), nil
}

func (s *MemoryRawRecordStore) ListByRunAndStatus(_ context.Context, runID uuid.UUID, status domain.RecordStatus) ([]domain.RawRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.collect(runID, status), nil
}

func (s *MemoryRawRecordStore) collect(runID uuid.UUID, status domain.RecordStatus) []domain.RawRecord {
	records := []domain.RawRecord{}
	for _, rec := range s.records {
		if rec.ImportRunID != runID {
			continue
		}
		if status != "" && rec.Status != status {
			continue
		}
		records = append(records, *rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].RowIndex < records[j].RowIndex })
	return records
}

func (s *MemoryRawRecordStore) CountsByRun(_ context.Context, runID uuid.UUID) (domain.StatusCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var counts domain.StatusCounts
	for _, rec := range s.records {
		if rec.ImportRunID != runID {
			continue
		}
		counts.Total++
		switch rec.Status {
		case domain.RecordStatusPending:
			counts.Pending++
		case domain.RecordStatusProcessing:
			counts.Processing++
		case domain.RecordStatusPromoted:
			counts.Promoted++
		case domain.RecordStatusSkipped:
			counts.Skipped++
		case domain.RecordStatusParseError:
			counts.ParseError++
		case domain.RecordStatusRolledBack:
			counts.RolledBack++
		}
	}
	return counts, nil
}

func (s *MemoryRawRecordStore) MarkPromoted(_ context.Context, ids []uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		if rec, exists := s.records[id]; exists {
			rec.Status = domain.RecordStatusPromoted
		}
	}
	return nil
}

func (s *MemoryRawRecordStore) RollBackRun(_ context.Context, runID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := 0
	for _, rec := range s.records {
		if rec.ImportRunID != runID || rec.Status == domain.RecordStatusRolledBack {
			continue
		}
		if owner, exists := s.activeByKey[rec.DedupeKey]; exists && owner == rec.ID {
			delete(s.activeByKey, rec.DedupeKey)
		}
		rec.Status = domain.RecordStatusRolledBack
		changed++
	}
	return changed, nil
}

func (s *MemoryRawRecordStore) DeleteByRun(_ context.Context, runID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for id, rec := range s.records {
		if rec.ImportRunID != runID {
			continue
		}
		if owner, exists := s.activeByKey[rec.DedupeKey]; exists && owner == rec.ID {
			delete(s.activeByKey, rec.DedupeKey)
		}
		delete(s.records, id)
		deleted++
	}
	return deleted, nil
}
