package repository

import (
	"context"
	"sync"
	"time"

	"github.com/recoverops/intake/internal/domain"

	"github.com/google/uuid"
)

// MemoryPlaintiffStore is an in-memory production record store keyed by
// dedupe key.
type MemoryPlaintiffStore struct {
	mu      sync.Mutex
	records map[string]*domain.PlaintiffRecord
}

func NewMemoryPlaintiffStore() *MemoryPlaintiffStore {
	return &MemoryPlaintiffStore{records: make(map[string]*domain.PlaintiffRecord)}
}

func (s *MemoryPlaintiffStore) Upsert(_ context.Context, rec domain.PlaintiffRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if existing, exists := s.records[rec.DedupeKey]; exists {
		existing.Name = rec.Name
		existing.Email = rec.Email
		existing.Attributes = rec.Attributes
		existing.UpdatedAt = now
		return nil
	}

	stored := rec
	if stored.ID == uuid.Nil {
		stored.ID = uuid.New()
	}
	stored.CreatedAt = now
	stored.UpdatedAt = now
	s.records[stored.DedupeKey] = &stored
	return nil
}

func (s *MemoryPlaintiffStore) GetByDedupeKey(_ context.Context, dedupeKey string) (domain.PlaintiffRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.records[dedupeKey]
	if !exists {
		return domain.PlaintiffRecord{}, ErrPlaintiffNotFound
	}
	return *rec, nil
}

func (s *MemoryPlaintiffStore) DeleteByImportRun(_ context.Context, runID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for key, rec := range s.records {
		if rec.ImportRunID != runID {
			continue
		}
		delete(s.records, key)
		deleted++
	}
	return deleted, nil
}

// Len reports how many production records exist; used by tests.
func (s *MemoryPlaintiffStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
