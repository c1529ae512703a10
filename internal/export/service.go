// Package export streams a run's landing rows out as CSV for offline triage.
// Reads straight from the landing store; nothing here mutates state.
package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/recoverops/intake/internal/domain"
	"github.com/recoverops/intake/internal/repository"

	"github.com/google/uuid"
)

var csvHeader = []string{
	"row_index",
	"status",
	"dedupe_key",
	"source_system",
	"name",
	"email",
	"error_code",
	"error_message",
	"created_at",
}

type Service struct {
	runs    repository.ImportRunRepository
	landing repository.RawRecordRepository
}

func NewService(runs repository.ImportRunRepository, landing repository.RawRecordRepository) *Service {
	return &Service{runs: runs, landing: landing}
}

// WriteRunCSV streams the run's landing rows to w, ordered by row index. An
// empty status exports every row; otherwise only rows in that status. Returns
// the number of data rows written.
func (s *Service) WriteRunCSV(ctx context.Context, w io.Writer, runID uuid.UUID, status domain.RecordStatus) (int, error) {
	if _, err := s.runs.GetByID(ctx, runID); err != nil {
		return 0, err
	}

	var (
		records []domain.RawRecord
		err     error
	)
	if status == "" {
		records, err = s.landing.ListByRun(ctx, runID)
	} else {
		records, err = s.landing.ListByRunAndStatus(ctx, runID, status)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to list landing rows: %w", err)
	}

	csvWriter := csv.NewWriter(w)
	if err := csvWriter.Write(csvHeader); err != nil {
		return 0, fmt.Errorf("failed to write header: %w", err)
	}

	row := make([]string, len(csvHeader))
	written := 0
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		row[0] = strconv.Itoa(rec.RowIndex)
		row[1] = string(rec.Status)
		row[2] = rec.DedupeKey
		row[3] = rec.SourceSystem
		row[4] = rec.Name
		row[5] = rec.Email
		row[6] = rec.ErrorCode
		row[7] = rec.ErrorMessage
		row[8] = rec.CreatedAt.UTC().Format(time.RFC3339)
		if err := csvWriter.Write(row); err != nil {
			return written, fmt.Errorf("failed to write row %d: %w", rec.RowIndex, err)
		}
		written++
	}

	csvWriter.Flush()
	if err := csvWriter.Error(); err != nil {
		return written, fmt.Errorf("failed to flush export: %w", err)
	}
	return written, nil
}
