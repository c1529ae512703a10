package domain

import (
	"time"

	"github.com/google/uuid"
)

// RecordStatus tracks a landed row through staging, promotion, and rollback.
type RecordStatus string

const (
	RecordStatusPending    RecordStatus = "pending"
	RecordStatusProcessing RecordStatus = "processing"
	RecordStatusPromoted   RecordStatus = "promoted"
	RecordStatusSkipped    RecordStatus = "skipped"
	RecordStatusParseError RecordStatus = "parse_error"
	RecordStatusRolledBack RecordStatus = "rolled_back"
)

// Active reports whether a status counts against the dedupe-key uniqueness
// guarantee. Skipped, parse_error, and rolled_back rows are audit rows: they
// record that a row was seen without holding a live copy of the record.
func (s RecordStatus) Active() bool {
	switch s {
	case RecordStatusPending, RecordStatusProcessing, RecordStatusPromoted:
		return true
	}
	return false
}

// RawRecord is one as-seen row in the landing store. Every row of every run
// lands here exactly once, whatever its outcome, so the store is the single
// source of truth for "what did we see".
type RawRecord struct {
	ID           uuid.UUID         `json:"id"`
	ImportRunID  uuid.UUID         `json:"import_run_id"`
	RowIndex     int               `json:"row_index"`
	DedupeKey    string            `json:"dedupe_key"`
	SourceSystem string            `json:"source_system"`
	Name         string            `json:"name"`
	Email        string            `json:"email"`
	Raw          map[string]string `json:"raw"`
	Status       RecordStatus      `json:"status"`
	ErrorCode    string            `json:"error_code,omitempty"`
	ErrorMessage string            `json:"error_message,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}

// InsertSummary reports what the landing store did with a slice of rows.
type InsertSummary struct {
	Inserted int `json:"inserted"`
	Skipped  int `json:"skipped"`
	Errored  int `json:"errored"`
}

// StatusCounts is a per-status recount of a run's landing rows, produced by
// the reconciliation query.
type StatusCounts struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Promoted   int `json:"promoted"`
	Skipped    int `json:"skipped"`
	ParseError int `json:"parse_error"`
	RolledBack int `json:"rolled_back"`
}
