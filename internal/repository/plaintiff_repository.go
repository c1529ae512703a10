package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/recoverops/intake/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrPlaintiffNotFound is returned when no production record carries the key.
var ErrPlaintiffNotFound = errors.New("plaintiff record not found")

type plaintiffRepository struct {
	pool *pgxpool.Pool
}

// NewPlaintiffRepository wires the production record store against pgxpool.
func NewPlaintiffRepository(pool *pgxpool.Pool) PlaintiffRepository {
	return &plaintiffRepository{pool: pool}
}

// Upsert promotes a record keyed on its dedupe key. Re-promoting an unchanged
// payload rewrites the same values, which downstream readers observe as a
// no-op.
func (r *plaintiffRepository) Upsert(ctx context.Context, rec domain.PlaintiffRecord) error {
	attrs, err := json.Marshal(rec.Attributes)
	if err != nil {
		return fmt.Errorf("failed to marshal plaintiff attributes: %w", err)
	}

	id := rec.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	_, err = r.pool.Exec(
		ctx,
		`INSERT INTO plaintiffs (id, dedupe_key, source_system, name, email, attributes, import_run_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (dedupe_key) DO UPDATE
		 SET name = EXCLUDED.name,
		     email = EXCLUDED.email,
		     attributes = EXCLUDED.attributes,
		     updated_at = now()`,
		id, rec.DedupeKey, rec.SourceSystem, rec.Name, rec.Email, attrs, rec.ImportRunID,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert plaintiff: %w", err)
	}

	return nil
}

func (r *plaintiffRepository) GetByDedupeKey(ctx context.Context, dedupeKey string) (domain.PlaintiffRecord, error) {
	var (
		rec       domain.PlaintiffRecord
		attrs     []byte
		createdAt pgtype.Timestamptz
		updatedAt pgtype.Timestamptz
	)
	err := r.pool.QueryRow(
		ctx,
		`SELECT id, dedupe_key, source_system, name, email, attributes, import_run_id, created_at, updated_at
		 FROM plaintiffs WHERE dedupe_key = $1`,
		dedupeKey,
	).Scan(&rec.ID, &rec.DedupeKey, &rec.SourceSystem, &rec.Name, &rec.Email, &attrs, &rec.ImportRunID, &createdAt, &updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.PlaintiffRecord{}, ErrPlaintiffNotFound
	}
	if err != nil {
		return domain.PlaintiffRecord{}, fmt.Errorf("failed to get plaintiff: %w", err)
	}

	if len(attrs) > 0 {
		if err := json.Unmarshal(attrs, &rec.Attributes); err != nil {
			return domain.PlaintiffRecord{}, fmt.Errorf("failed to decode plaintiff attributes: %w", err)
		}
	}
	if createdAt.Valid {
		rec.CreatedAt = createdAt.Time
	}
	if updatedAt.Valid {
		rec.UpdatedAt = updatedAt.Time
	}

	return rec, nil
}

// DeleteByImportRun is only reachable through the gated hard-rollback path.
// Scoping the delete to import_run_id keeps it inside the run's ownership:
// upsert never rewrites import_run_id, so records first promoted by another
// run survive even when this run landed the same dedupe keys.
func (r *plaintiffRepository) DeleteByImportRun(ctx context.Context, runID uuid.UUID) (int, error) {
	tag, err := r.pool.Exec(
		ctx,
		`DELETE FROM plaintiffs WHERE import_run_id = $1`,
		runID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete plaintiffs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
