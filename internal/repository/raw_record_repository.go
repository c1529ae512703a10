package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/recoverops/intake/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

type rawRecordRepository struct {
	pool *pgxpool.Pool
}

// NewRawRecordRepository wires the row landing store against pgxpool.
func NewRawRecordRepository(pool *pgxpool.Pool) RawRecordRepository {
	return &rawRecordRepository{pool: pool}
}

// Insert lands an active row. The conflict target is the partial unique index
// over active statuses, so the existence check and the insert are one atomic
// statement; concurrent batches racing on the same dedupe key cannot both win.
func (r *rawRecordRepository) Insert(ctx context.Context, rec domain.RawRecord) (bool, error) {
	raw, err := json.Marshal(rec.Raw)
	if err != nil {
		return false, fmt.Errorf("failed to marshal raw fields: %w", err)
	}

	tag, err := r.pool.Exec(
		ctx,
		`INSERT INTO raw_records (id, import_run_id, row_index, dedupe_key, source_system, name, email, raw, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (dedupe_key) WHERE status IN ('pending', 'processing', 'promoted') DO NOTHING`,
		newRecordID(rec), rec.ImportRunID, rec.RowIndex, rec.DedupeKey,
		rec.SourceSystem, rec.Name, rec.Email, raw, domain.RecordStatusPending,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert raw record: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

func (r *rawRecordRepository) Record(ctx context.Context, rec domain.RawRecord) error {
	if rec.Status.Active() {
		return fmt.Errorf("audit insert requires a non-active status, got %s", rec.Status)
	}

	raw, err := json.Marshal(rec.Raw)
	if err != nil {
		return fmt.Errorf("failed to marshal raw fields: %w", err)
	}

	_, err = r.pool.Exec(
		ctx,
		`INSERT INTO raw_records (id, import_run_id, row_index, dedupe_key, source_system, name, email, raw, status, error_code, error_message)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		newRecordID(rec), rec.ImportRunID, rec.RowIndex, rec.DedupeKey,
		rec.SourceSystem, rec.Name, rec.Email, raw, rec.Status,
		rec.ErrorCode, rec.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("failed to record raw record: %w", err)
	}

	return nil
}

func (r *rawRecordRepository) ListByRun(ctx context.Context, runID uuid.UUID) ([]domain.RawRecord, error) {
	return r.list(ctx,
		`SELECT id, import_run_id, row_index, dedupe_key, source_system, name, email, raw, status, error_code, error_message, created_at
		 FROM raw_records WHERE import_run_id = $1 ORDER BY row_index`,
		runID,
	)
}

func (r *rawRecordRepository) ListByRunAndStatus(ctx context.Context, runID uuid.UUID, status domain.RecordStatus) ([]domain.RawRecord, error) {
	return r.list(ctx,
		`SELECT id, import_run_id, row_index, dedupe_key, source_system, name, email, raw, status, error_code, error_message, created_at
		 FROM raw_records WHERE import_run_id = $1 AND status = $2 ORDER BY row_index`,
		runID, status,
	)
}

func (r *rawRecordRepository) list(ctx context.Context, sql string, args ...any) ([]domain.RawRecord, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list raw records: %w", err)
	}
	defer rows.Close()

	records := []domain.RawRecord{}
	for rows.Next() {
		rec, scanErr := scanRawRecord(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan raw record: %w", scanErr)
		}
		records = append(records, rec)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate raw records: %w", rowsErr)
	}

	return records, nil
}

func (r *rawRecordRepository) CountsByRun(ctx context.Context, runID uuid.UUID) (domain.StatusCounts, error) {
	rows, err := r.pool.Query(
		ctx,
		`SELECT status, COUNT(*) FROM raw_records WHERE import_run_id = $1 GROUP BY status`,
		runID,
	)
	if err != nil {
		return domain.StatusCounts{}, fmt.Errorf("failed to count raw records: %w", err)
	}
	defer rows.Close()

	var counts domain.StatusCounts
	for rows.Next() {
		var (
			status domain.RecordStatus
			n      int
		)
		if scanErr := rows.Scan(&status, &n); scanErr != nil {
			return domain.StatusCounts{}, fmt.Errorf("failed to scan status count: %w", scanErr)
		}
		counts.Total += n
		switch status {
		case domain.RecordStatusPending:
			counts.Pending = n
		case domain.RecordStatusProcessing:
			counts.Processing = n
		case domain.RecordStatusPromoted:
			counts.Promoted = n
		case domain.RecordStatusSkipped:
			counts.Skipped = n
		case domain.RecordStatusParseError:
			counts.ParseError = n
		case domain.RecordStatusRolledBack:
			counts.RolledBack = n
		}
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return domain.StatusCounts{}, fmt.Errorf("failed to iterate status counts: %w", rowsErr)
	}

	return counts, nil
}

func (r *rawRecordRepository) MarkPromoted(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.pool.Exec(
		ctx,
		`UPDATE raw_records SET status = $2 WHERE id = ANY($1)`,
		ids, domain.RecordStatusPromoted,
	)
	if err != nil {
		return fmt.Errorf("failed to mark raw records promoted: %w", err)
	}
	return nil
}

func (r *rawRecordRepository) RollBackRun(ctx context.Context, runID uuid.UUID) (int, error) {
	tag, err := r.pool.Exec(
		ctx,
		`UPDATE raw_records SET status = $2 WHERE import_run_id = $1 AND status <> $2`,
		runID, domain.RecordStatusRolledBack,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to roll back raw records: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *rawRecordRepository) DeleteByRun(ctx context.Context, runID uuid.UUID) (int, error) {
	tag, err := r.pool.Exec(
		ctx,
		`DELETE FROM raw_records WHERE import_run_id = $1`,
		runID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete raw records: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// newRecordID keeps caller-assigned ids when present so memory and Postgres
// stores behave the same in tests.
func newRecordID(rec domain.RawRecord) uuid.UUID {
	if rec.ID != uuid.Nil {
		return rec.ID
	}
	return uuid.New()
}

func scanRawRecord(row pgxRow) (domain.RawRecord, error) {
	var (
		rec       domain.RawRecord
		raw       []byte
		errCode   pgtype.Text
		errMsg    pgtype.Text
		createdAt pgtype.Timestamptz
	)
	if err := row.Scan(
		&rec.ID,
		&rec.ImportRunID,
		&rec.RowIndex,
		&rec.DedupeKey,
		&rec.SourceSystem,
		&rec.Name,
		&rec.Email,
		&raw,
		&rec.Status,
		&errCode,
		&errMsg,
		&createdAt,
	); err != nil {
		return domain.RawRecord{}, err
	}

	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &rec.Raw); err != nil {
			return domain.RawRecord{}, fmt.Errorf("failed to decode raw fields: %w", err)
		}
	}
	if errCode.Valid {
		rec.ErrorCode = errCode.String
	}
	if errMsg.Valid {
		rec.ErrorMessage = errMsg.String
	}
	if createdAt.Valid {
		rec.CreatedAt = createdAt.Time
	}

	return rec, nil
}
