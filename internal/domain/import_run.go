package domain

import (
	"time"

	"github.com/google/uuid"
)

// RunStatus tracks the lifecycle of an import run.
type RunStatus string

const (
	RunStatusClaimed    RunStatus = "claimed"
	RunStatusProcessing RunStatus = "processing"
	RunStatusCompleted  RunStatus = "completed"
	RunStatusFailed     RunStatus = "failed"
	RunStatusRolledBack RunStatus = "rolled_back"

	// RunStatusDuplicate is only ever reported as a claim result. It is never
	// stored as a run's own status; the prior run keeps whatever status it has.
	RunStatusDuplicate RunStatus = "duplicate"
)

// ImportRun is the ledger entry for one import attempt. The
// (SourceSystem, SourceBatchID, FileHash) triple is unique, which is what
// makes re-submitting the same bytes under the same batch id a no-op.
type ImportRun struct {
	ID            uuid.UUID     `json:"id"`
	SourceSystem  string        `json:"source_system"`
	SourceBatchID string        `json:"source_batch_id"`
	FileHash      string        `json:"file_hash"`
	Filename      string        `json:"filename"`
	Kind          string        `json:"kind"`
	Status        RunStatus     `json:"status"`
	RowsFetched   int           `json:"rows_fetched"`
	RowsInserted  int           `json:"rows_inserted"`
	RowsSkipped   int           `json:"rows_skipped"`
	RowsErrored   int           `json:"rows_errored"`
	ErrorDetails  *ErrorDetails `json:"error_details,omitempty"`
	StartedAt     time.Time     `json:"started_at"`
	FinishedAt    *time.Time    `json:"finished_at,omitempty"`
}

// RunCounts carries the pipeline's self-reported row totals into the ledger.
type RunCounts struct {
	Fetched  int `json:"rows_fetched"`
	Inserted int `json:"rows_inserted"`
	Skipped  int `json:"rows_skipped"`
	Errored  int `json:"rows_errored"`
}

// ErrorDetails is the structured error payload persisted with a run. It also
// carries the rollback reason once a run has been rolled back.
type ErrorDetails struct {
	Code           string   `json:"code,omitempty"`
	Message        string   `json:"message,omitempty"`
	MissingColumns []string `json:"missing_columns,omitempty"`
	RollbackReason string   `json:"rollback_reason,omitempty"`
}

// Terminal reports whether a status permits no further pipeline transitions.
// rolled_back is one-way: a rolled-back run is never resurrected.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusFailed, RunStatusRolledBack:
		return true
	}
	return false
}

// validRunTransitions enumerates the allowed ledger state machine. Anything
// not listed is rejected with ErrInvalidTransition.
var validRunTransitions = map[RunStatus][]RunStatus{
	RunStatusClaimed:    {RunStatusProcessing, RunStatusFailed},
	RunStatusProcessing: {RunStatusCompleted, RunStatusFailed},
	RunStatusCompleted:  {RunStatusRolledBack},
	RunStatusFailed:     {RunStatusRolledBack},
}

// CanTransition reports whether a run may move from one status to another.
func CanTransition(from, to RunStatus) bool {
	for _, next := range validRunTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ClaimStatus is the outcome of a ledger claim attempt.
type ClaimStatus string

const (
	ClaimStatusClaimed   ClaimStatus = "claimed"
	ClaimStatusDuplicate ClaimStatus = "duplicate"
)

// ClaimResult reports whether the caller won the batch or observed a prior run.
type ClaimResult struct {
	Status ClaimStatus `json:"status"`
	RunID  uuid.UUID   `json:"run_id"`
}
