package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/recoverops/intake/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

type importRunRepository struct {
	pool *pgxpool.Pool
}

// NewImportRunRepository wires the ledger against pgxpool.
func NewImportRunRepository(pool *pgxpool.Pool) ImportRunRepository {
	return &importRunRepository{pool: pool}
}

// validateClaimArgs rejects empty identity fields before they reach storage.
// Shared by the Postgres and memory ledgers so both enforce the same contract.
func validateClaimArgs(sourceSystem, sourceBatchID, fileHash, filename string) error {
	var missing []string
	if strings.TrimSpace(sourceSystem) == "" {
		missing = append(missing, "source_system")
	}
	if strings.TrimSpace(sourceBatchID) == "" {
		missing = append(missing, "source_batch_id")
	}
	if strings.TrimSpace(fileHash) == "" {
		missing = append(missing, "file_hash")
	}
	if strings.TrimSpace(filename) == "" {
		missing = append(missing, "filename")
	}
	if len(missing) > 0 {
		return fmt.Errorf("claim requires non-empty %s", strings.Join(missing, ", "))
	}
	return nil
}

// Claim inserts a new ledger row for the identity triple, or reports the
// prior run. The insert-or-nothing is a single statement on the unique index,
// so under racing workers exactly one observes "claimed".
func (r *importRunRepository) Claim(ctx context.Context, sourceSystem, sourceBatchID, fileHash, filename, kind string) (domain.ClaimResult, error) {
	if err := validateClaimArgs(sourceSystem, sourceBatchID, fileHash, filename); err != nil {
		return domain.ClaimResult{}, err
	}

	id := uuid.New()
	var claimedID uuid.UUID
	err := r.pool.QueryRow(
		ctx,
		`INSERT INTO import_runs (id, source_system, source_batch_id, file_hash, filename, kind, status, started_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		 ON CONFLICT (source_system, source_batch_id, file_hash) DO NOTHING
		 RETURNING id`,
		id, sourceSystem, sourceBatchID, fileHash, filename, kind, domain.RunStatusClaimed,
	).Scan(&claimedID)
	if err == nil {
		return domain.ClaimResult{Status: domain.ClaimStatusClaimed, RunID: claimedID}, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.ClaimResult{}, fmt.Errorf("failed to claim import run: %w", err)
	}

	// Conflict: a prior run owns this triple. No mutation happened.
	var priorID uuid.UUID
	err = r.pool.QueryRow(
		ctx,
		`SELECT id FROM import_runs
		 WHERE source_system = $1 AND source_batch_id = $2 AND file_hash = $3`,
		sourceSystem, sourceBatchID, fileHash,
	).Scan(&priorID)
	if err != nil {
		return domain.ClaimResult{}, fmt.Errorf("failed to look up prior import run: %w", err)
	}

	return domain.ClaimResult{Status: domain.ClaimStatusDuplicate, RunID: priorID}, nil
}

func (r *importRunRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.ImportRun, error) {
	row := r.pool.QueryRow(
		ctx,
		`SELECT id, source_system, source_batch_id, file_hash, filename, kind, status,
		        rows_fetched, rows_inserted, rows_skipped, rows_errored,
		        error_details, started_at, finished_at
		 FROM import_runs WHERE id = $1`,
		id,
	)
	run, err := scanImportRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ImportRun{}, domain.ErrRunNotFound
		}
		return domain.ImportRun{}, fmt.Errorf("failed to get import run: %w", err)
	}
	return run, nil
}

func (r *importRunRepository) List(ctx context.Context, limit, offset int) ([]domain.ImportRun, error) {
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := r.pool.Query(
		ctx,
		`SELECT id, source_system, source_batch_id, file_hash, filename, kind, status,
		        rows_fetched, rows_inserted, rows_skipped, rows_errored,
		        error_details, started_at, finished_at
		 FROM import_runs
		 ORDER BY started_at DESC
		 LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list import runs: %w", err)
	}
	defer rows.Close()

	runs := []domain.ImportRun{}
	for rows.Next() {
		run, scanErr := scanImportRun(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan import run: %w", scanErr)
		}
		runs = append(runs, run)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate import runs: %w", rowsErr)
	}

	return runs, nil
}

func (r *importRunRepository) MarkProcessing(ctx context.Context, id uuid.UUID) error {
	return r.transition(
		ctx, id,
		`UPDATE import_runs SET status = $2 WHERE id = $1 AND status = $3`,
		id, domain.RunStatusProcessing, domain.RunStatusClaimed,
	)
}

func (r *importRunRepository) MarkCompleted(ctx context.Context, id uuid.UUID, counts domain.RunCounts) error {
	return r.transition(
		ctx, id,
		`UPDATE import_runs
		 SET status = $2, rows_fetched = $3, rows_inserted = $4, rows_skipped = $5,
		     rows_errored = $6, finished_at = now()
		 WHERE id = $1 AND status = $7`,
		id, domain.RunStatusCompleted,
		counts.Fetched, counts.Inserted, counts.Skipped, counts.Errored,
		domain.RunStatusProcessing,
	)
}

func (r *importRunRepository) MarkFailed(ctx context.Context, id uuid.UUID, counts domain.RunCounts, details domain.ErrorDetails) error {
	payload, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("failed to marshal error details: %w", err)
	}
	return r.transition(
		ctx, id,
		`UPDATE import_runs
		 SET status = $2, rows_fetched = $3, rows_inserted = $4, rows_skipped = $5,
		     rows_errored = $6, error_details = $7, finished_at = now()
		 WHERE id = $1 AND status IN ($8, $9)`,
		id, domain.RunStatusFailed,
		counts.Fetched, counts.Inserted, counts.Skipped, counts.Errored,
		payload,
		domain.RunStatusClaimed, domain.RunStatusProcessing,
	)
}

func (r *importRunRepository) MarkRolledBack(ctx context.Context, id uuid.UUID, reason string) error {
	payload, err := json.Marshal(domain.ErrorDetails{RollbackReason: reason})
	if err != nil {
		return fmt.Errorf("failed to marshal rollback reason: %w", err)
	}
	return r.transition(
		ctx, id,
		`UPDATE import_runs
		 SET status = $2,
		     error_details = COALESCE(error_details, '{}'::jsonb) || $3,
		     finished_at = COALESCE(finished_at, now())
		 WHERE id = $1 AND status IN ($4, $5)`,
		id, domain.RunStatusRolledBack, payload,
		domain.RunStatusCompleted, domain.RunStatusFailed,
	)
}

// transition runs a guarded status update. Zero affected rows means either
// the run is missing or it was not in an eligible state; the distinction is
// surfaced so callers fail loudly instead of overwriting history.
func (r *importRunRepository) transition(ctx context.Context, id uuid.UUID, sql string, args ...any) error {
	tag, err := r.pool.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("failed to transition import run: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var status domain.RunStatus
	err = r.pool.QueryRow(ctx, `SELECT status FROM import_runs WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrRunNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to check import run status: %w", err)
	}
	return fmt.Errorf("%w: run %s is %s", domain.ErrInvalidTransition, id, status)
}

type pgxRow interface {
	Scan(dest ...any) error
}

func scanImportRun(row pgxRow) (domain.ImportRun, error) {
	var (
		run        domain.ImportRun
		details    []byte
		startedAt  pgtype.Timestamptz
		finishedAt pgtype.Timestamptz
	)
	if err := row.Scan(
		&run.ID,
		&run.SourceSystem,
		&run.SourceBatchID,
		&run.FileHash,
		&run.Filename,
		&run.Kind,
		&run.Status,
		&run.RowsFetched,
		&run.RowsInserted,
		&run.RowsSkipped,
		&run.RowsErrored,
		&details,
		&startedAt,
		&finishedAt,
	); err != nil {
		return domain.ImportRun{}, err
	}

	if len(details) > 0 {
		parsed := domain.ErrorDetails{}
		if err := json.Unmarshal(details, &parsed); err != nil {
			return domain.ImportRun{}, fmt.Errorf("failed to decode error details: %w", err)
		}
		run.ErrorDetails = &parsed
	}
	if startedAt.Valid {
		run.StartedAt = startedAt.Time
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		run.FinishedAt = &t
	}

	return run, nil
}
