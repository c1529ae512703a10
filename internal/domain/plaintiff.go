package domain

import (
	"time"

	"github.com/google/uuid"
)

// PlaintiffRecord is the production record downstream consumers read. The
// dedupe key is its natural key: promoting the same logical record twice
// upserts rather than duplicates, so replaying an unchanged batch is a no-op.
type PlaintiffRecord struct {
	ID           uuid.UUID         `json:"id"`
	DedupeKey    string            `json:"dedupe_key"`
	SourceSystem string            `json:"source_system"`
	Name         string            `json:"name"`
	Email        string            `json:"email"`
	Attributes   map[string]string `json:"attributes"`
	ImportRunID  uuid.UUID         `json:"import_run_id"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}
