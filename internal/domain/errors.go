package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidTransition rejects out-of-order ledger state changes, e.g.
	// completing an already-completed run. History is never overwritten.
	ErrInvalidTransition = errors.New("invalid import run transition")

	// ErrInvalidState rejects rollback of a run that has not reached a
	// terminal status yet. The caller should wait for the run to finish or
	// investigate a stuck worker instead.
	ErrInvalidState = errors.New("run is not in a rollback-eligible state")

	// ErrRunNotFound is returned when a run id has no ledger entry.
	ErrRunNotFound = errors.New("import run not found")
)

// MissingColumnsError aborts a run before any row is touched when the header
// row lacks required canonical columns.
type MissingColumnsError struct {
	Columns []string
}

func (e *MissingColumnsError) Error() string {
	return fmt.Sprintf("missing required columns: %s", strings.Join(e.Columns, ", "))
}

// RowParseError records a single row that failed structural validation. It is
// absorbed by the pipeline, never propagated: the row is landed as
// parse_error and the run continues.
type RowParseError struct {
	RowIndex int      `json:"row_index"`
	Fields   []string `json:"fields"`
	Message  string   `json:"message"`
}

func (e *RowParseError) Error() string {
	return fmt.Sprintf("row %d: %s", e.RowIndex, e.Message)
}

// StorageError wraps a storage failure that is fatal to a run. Partial counts
// accumulated before the failure are preserved on the failed run.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage unavailable during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
