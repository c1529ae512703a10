// Package ingestion is the batch pipeline: hash, claim, parse, land, report.
// A batch is processed exactly once at the batch level (the ledger claim) and
// exactly once at the row level (the landing store's dedupe-key guarantee).
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/recoverops/intake/internal/domain"
	"github.com/recoverops/intake/internal/identity"
	"github.com/recoverops/intake/internal/metrics"
	"github.com/recoverops/intake/internal/repository"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Result statuses. StatusDuplicate is a successful no-op, not an error.
const (
	StatusCompleted = "completed"
	StatusDuplicate = "duplicate"
	StatusFailed    = "failed"
	StatusDryRun    = "dry_run"
)

const (
	errCodeMissingField      = "missing_required_field"
	errCodeDedupeConflict    = "dedupe_conflict"
	errCodeMissingColumns    = "missing_columns"
	errCodeStorageFailure    = "storage_unavailable"
	errCodeUnreadablePayload = "unreadable_payload"
)

// Service orchestrates one import run per invocation. Configuration is
// explicit and construction-time; instances with different alias tables can
// coexist in one process.
type Service struct {
	runs        repository.ImportRunRepository
	landing     repository.RawRecordRepository
	metrics     *metrics.Metrics
	aliases     AliasTable
	chunkSize   int
	parallelism int
}

// Options tunes the pipeline.
type Options struct {
	Aliases          AliasTable
	ChunkSize        int
	ChunkParallelism int
	Metrics          *metrics.Metrics
}

// NewService creates the pipeline over a ledger and a landing store.
func NewService(runs repository.ImportRunRepository, landing repository.RawRecordRepository, opts Options) *Service {
	if opts.Aliases.Version == "" {
		opts.Aliases = DefaultAliases()
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 500
	}
	if opts.ChunkParallelism <= 0 {
		opts.ChunkParallelism = 4
	}
	return &Service{
		runs:        runs,
		landing:     landing,
		metrics:     opts.Metrics,
		aliases:     opts.Aliases,
		chunkSize:   opts.ChunkSize,
		parallelism: opts.ChunkParallelism,
	}
}

// Request describes one submitted batch: a byte stream plus declared metadata.
type Request struct {
	SourceSystem  string
	SourceBatchID string
	Filename      string
	Kind          string
	Data          io.Reader
}

// Result is the structured summary returned to the caller. Every run,
// successful or not, is also inspectable through the ledger afterwards.
type Result struct {
	RunID        uuid.UUID              `json:"run_id,omitempty"`
	Status       string                 `json:"status"`
	FileHash     string                 `json:"file_hash"`
	RowsFetched  int                    `json:"rows_fetched"`
	RowsInserted int                    `json:"rows_inserted"`
	RowsSkipped  int                    `json:"rows_skipped"`
	RowsErrored  int                    `json:"rows_errored"`
	ParseErrors  []domain.RowParseError `json:"parse_errors,omitempty"`
}

// Ingest runs the commit branch of the pipeline: hash, claim, parse, land,
// complete. A duplicate claim returns immediately with zero further work.
func (s *Service) Ingest(ctx context.Context, req Request) (Result, error) {
	payload, err := readPayload(req)
	if err != nil {
		return Result{}, err
	}

	fileHash := identity.HashBytes(payload)

	claim, err := s.runs.Claim(ctx, req.SourceSystem, req.SourceBatchID, fileHash, req.Filename, req.Kind)
	if err != nil {
		return Result{}, fmt.Errorf("failed to claim batch: %w", err)
	}
	if claim.Status == domain.ClaimStatusDuplicate {
		s.metrics.IncDuplicate()
		return Result{RunID: claim.RunID, Status: StatusDuplicate, FileHash: fileHash}, nil
	}
	s.metrics.IncClaimed()

	started := time.Now()
	runID := claim.RunID

	table, err := parseTable(req.Filename, payload, s.aliases)
	if err != nil {
		return s.failRun(ctx, runID, fileHash, started, domain.RunCounts{}, nil, err)
	}

	if err := s.runs.MarkProcessing(ctx, runID); err != nil {
		return Result{RunID: runID, Status: StatusFailed, FileHash: fileHash}, fmt.Errorf("failed to start processing: %w", err)
	}

	summary, parseErrors, landErr := s.landRows(ctx, runID, req.SourceSystem, table.rows)
	counts := domain.RunCounts{
		Fetched:  len(table.rows),
		Inserted: summary.Inserted,
		Skipped:  summary.Skipped,
		Errored:  summary.Errored,
	}
	if landErr != nil {
		return s.failRun(ctx, runID, fileHash, started, counts, parseErrors, landErr)
	}

	if err := s.runs.MarkCompleted(ctx, runID, counts); err != nil {
		return Result{RunID: runID, Status: StatusFailed, FileHash: fileHash}, fmt.Errorf("failed to complete run: %w", err)
	}

	s.metrics.AddRows(counts.Inserted, counts.Skipped, counts.Errored)
	s.metrics.ObserveRun(StatusCompleted, time.Since(started).Seconds())

	return Result{
		RunID:        runID,
		Status:       StatusCompleted,
		FileHash:     fileHash,
		RowsFetched:  counts.Fetched,
		RowsInserted: counts.Inserted,
		RowsSkipped:  counts.Skipped,
		RowsErrored:  counts.Errored,
		ParseErrors:  parseErrors,
	}, nil
}

// DryRun performs hash, parse, and an in-memory dedupe and validation pass
// with the same summary shape as Ingest. It never claims and never writes, so
// it is side-effect-free and repeatable. It cannot see dedupe conflicts
// against previously landed batches; only in-file duplicates are reported.
func (s *Service) DryRun(_ context.Context, req Request) (Result, error) {
	payload, err := readPayload(req)
	if err != nil {
		return Result{}, err
	}

	fileHash := identity.HashBytes(payload)

	table, err := parseTable(req.Filename, payload, s.aliases)
	if err != nil {
		return Result{Status: StatusDryRun, FileHash: fileHash}, err
	}

	result := Result{Status: StatusDryRun, FileHash: fileHash, RowsFetched: len(table.rows)}
	seen := make(map[string]bool, len(table.rows))

	for _, row := range table.rows {
		if identity.Normalize(row.Name()) == "" {
			result.RowsErrored++
			result.ParseErrors = append(result.ParseErrors, domain.RowParseError{
				RowIndex: row.RowIndex,
				Fields:   []string{FieldName},
				Message:  "required field is empty",
			})
			continue
		}
		key := identity.DedupeKey(req.SourceSystem, row.Name(), row.Email())
		if seen[key] {
			result.RowsSkipped++
			continue
		}
		seen[key] = true
		result.RowsInserted++
	}

	return result, nil
}

func readPayload(req Request) ([]byte, error) {
	if req.Data == nil {
		return nil, errors.New("data reader is required")
	}
	payload, err := io.ReadAll(req.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	if len(payload) == 0 {
		return nil, ErrEmptyFile
	}
	return payload, nil
}

// landRows pushes parsed rows into the landing store in bounded chunks.
// Chunks may run in parallel; each row's insert is independently atomic on
// the dedupe-key constraint, so ordering across rows carries no guarantee.
// The first storage failure cancels remaining chunks; counts accumulated by
// then are still reported.
func (s *Service) landRows(ctx context.Context, runID uuid.UUID, sourceSystem string, rows []ParsedRow) (domain.InsertSummary, []domain.RowParseError, error) {
	var (
		mu          sync.Mutex
		summary     domain.InsertSummary
		parseErrors []domain.RowParseError
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallelism)

	for start := 0; start < len(rows); start += s.chunkSize {
		end := start + s.chunkSize
		if end > len(rows) {
			end = len(rows)
		}
		chunk := rows[start:end]

		g.Go(func() error {
			local := domain.InsertSummary{}
			var localErrors []domain.RowParseError

			for _, row := range chunk {
				if err := ctx.Err(); err != nil {
					return err
				}

				rowErr, landErr := s.landRow(ctx, runID, sourceSystem, row, &local)
				if landErr != nil {
					mu.Lock()
					summary.Inserted += local.Inserted
					summary.Skipped += local.Skipped
					summary.Errored += local.Errored
					parseErrors = append(parseErrors, localErrors...)
					mu.Unlock()
					return landErr
				}
				if rowErr != nil {
					localErrors = append(localErrors, *rowErr)
				}
			}

			mu.Lock()
			summary.Inserted += local.Inserted
			summary.Skipped += local.Skipped
			summary.Errored += local.Errored
			parseErrors = append(parseErrors, localErrors...)
			mu.Unlock()
			return nil
		})
	}

	err := g.Wait()
	sort.Slice(parseErrors, func(i, j int) bool { return parseErrors[i].RowIndex < parseErrors[j].RowIndex })
	return summary, parseErrors, err
}

// landRow decides one row: parse_error, inserted, or skipped. Per-row errors
// are absorbed and recorded; only storage failures propagate.
func (s *Service) landRow(ctx context.Context, runID uuid.UUID, sourceSystem string, row ParsedRow, local *domain.InsertSummary) (*domain.RowParseError, error) {
	if identity.Normalize(row.Name()) == "" {
		rowErr := domain.RowParseError{
			RowIndex: row.RowIndex,
			Fields:   []string{FieldName},
			Message:  "required field is empty",
		}
		rec := domain.RawRecord{
			ImportRunID:  runID,
			RowIndex:     row.RowIndex,
			DedupeKey:    "",
			SourceSystem: sourceSystem,
			Name:         row.Name(),
			Email:        row.Email(),
			Raw:          row.Fields,
			Status:       domain.RecordStatusParseError,
			ErrorCode:    errCodeMissingField,
			ErrorMessage: rowErr.Error(),
		}
		if err := s.landing.Record(ctx, rec); err != nil {
			return nil, &domain.StorageError{Op: "record parse error", Err: err}
		}
		local.Errored++
		return &rowErr, nil
	}

	key := identity.DedupeKey(sourceSystem, row.Name(), row.Email())
	rec := domain.RawRecord{
		ImportRunID:  runID,
		RowIndex:     row.RowIndex,
		DedupeKey:    key,
		SourceSystem: sourceSystem,
		Name:         row.Name(),
		Email:        row.Email(),
		Raw:          row.Fields,
	}

	inserted, err := s.landing.Insert(ctx, rec)
	if err != nil {
		return nil, &domain.StorageError{Op: "insert row", Err: err}
	}
	if inserted {
		local.Inserted++
		return nil, nil
	}

	// Conflict: a live row already holds this key. Record the occurrence so
	// the decision stays auditable.
	rec.Status = domain.RecordStatusSkipped
	rec.ErrorCode = errCodeDedupeConflict
	rec.ErrorMessage = "dedupe key already landed"
	if err := s.landing.Record(ctx, rec); err != nil {
		return nil, &domain.StorageError{Op: "record skipped row", Err: err}
	}
	local.Skipped++
	return nil, nil
}

// failRun marks the run failed with whatever counts accumulated and maps the
// cause into the structured error payload.
func (s *Service) failRun(ctx context.Context, runID uuid.UUID, fileHash string, started time.Time, counts domain.RunCounts, parseErrors []domain.RowParseError, cause error) (Result, error) {
	details := domain.ErrorDetails{Code: errCodeStorageFailure, Message: cause.Error()}

	var missing *domain.MissingColumnsError
	if errors.As(cause, &missing) {
		details.Code = errCodeMissingColumns
		details.MissingColumns = missing.Columns
	} else if errors.Is(cause, ErrUnsupportedFormat) || errors.Is(cause, ErrEmptyFile) || errors.Is(cause, ErrMalformedFile) {
		details.Code = errCodeUnreadablePayload
	}

	if err := s.runs.MarkFailed(ctx, runID, counts, details); err != nil {
		return Result{RunID: runID, Status: StatusFailed, FileHash: fileHash},
			fmt.Errorf("failed to mark run failed after %v: %w", cause, err)
	}

	s.metrics.AddRows(counts.Inserted, counts.Skipped, counts.Errored)
	s.metrics.ObserveRun(StatusFailed, time.Since(started).Seconds())

	return Result{
		RunID:        runID,
		Status:       StatusFailed,
		FileHash:     fileHash,
		RowsFetched:  counts.Fetched,
		RowsInserted: counts.Inserted,
		RowsSkipped:  counts.Skipped,
		RowsErrored:  counts.Errored,
		ParseErrors:  parseErrors,
	}, cause
}
