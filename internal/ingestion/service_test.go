package ingestion

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/recoverops/intake/internal/domain"
	"github.com/recoverops/intake/internal/repository"
)

func newTestService(t *testing.T) (*Service, *repository.MemoryImportRunStore, *repository.MemoryRawRecordStore) {
	t.Helper()
	runs := repository.NewMemoryImportRunStore()
	landing := repository.NewMemoryRawRecordStore()
	// Small chunks so chunking logic is exercised even by tiny fixtures.
	service := NewService(runs, landing, Options{ChunkSize: 2, ChunkParallelism: 2})
	return service, runs, landing
}

func TestIngestThreeRowCSVWithInFileDuplicate(t *testing.T) {
	service, _, landing := newTestService(t)

	data := `name,email
John Doe,john@x.com
JANE DOE,jane@x.com
John Doe,john@x.com
`
	req := Request{
		SourceSystem:  "vendorA",
		SourceBatchID: "batch-001",
		Filename:      "plaintiffs.csv",
		Kind:          "plaintiffs",
		Data:          strings.NewReader(data),
	}

	result, err := service.Ingest(context.Background(), req)
	if err != nil {
		t.Fatalf("ingest returned error: %v", err)
	}

	if result.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s", result.Status)
	}
	if result.RowsFetched != 3 || result.RowsInserted != 2 || result.RowsSkipped != 1 || result.RowsErrored != 0 {
		t.Fatalf("unexpected counts: %+v", result)
	}

	counts, err := landing.CountsByRun(context.Background(), result.RunID)
	if err != nil {
		t.Fatalf("counts returned error: %v", err)
	}
	if counts.Total != 3 || counts.Pending != 2 || counts.Skipped != 1 {
		t.Fatalf("unexpected landing counts: %+v", counts)
	}

	// Re-submitting byte-identical content under the same batch id is a
	// duplicate: no parsing, no further landing rows.
	replay, err := service.Ingest(context.Background(), Request{
		SourceSystem:  "vendorA",
		SourceBatchID: "batch-001",
		Filename:      "plaintiffs.csv",
		Kind:          "plaintiffs",
		Data:          strings.NewReader(data),
	})
	if err != nil {
		t.Fatalf("replay returned error: %v", err)
	}
	if replay.Status != StatusDuplicate {
		t.Fatalf("expected duplicate, got %s", replay.Status)
	}
	if replay.RunID != result.RunID {
		t.Fatalf("duplicate must point at the prior run")
	}

	after, err := landing.CountsByRun(context.Background(), result.RunID)
	if err != nil {
		t.Fatalf("counts returned error: %v", err)
	}
	if after.Total != 3 {
		t.Fatalf("replay created landing rows: %+v", after)
	}
}

func TestIngestRowDedupeAcrossBatches(t *testing.T) {
	service, _, landing := newTestService(t)
	ctx := context.Background()

	first, err := service.Ingest(ctx, Request{
		SourceSystem:  "vendorA",
		SourceBatchID: "batch-a",
		Filename:      "a.csv",
		Kind:          "plaintiffs",
		Data:          strings.NewReader("name,email\nJohn Doe,john@x.com\n"),
	})
	if err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	if first.RowsInserted != 1 {
		t.Fatalf("expected 1 inserted, got %+v", first)
	}

	// Same logical record, different casing and whitespace, new batch.
	second, err := service.Ingest(ctx, Request{
		SourceSystem:  "vendorA",
		SourceBatchID: "batch-b",
		Filename:      "b.csv",
		Kind:          "plaintiffs",
		Data:          strings.NewReader("name,email\nJOHN   DOE, JOHN@X.COM \n"),
	})
	if err != nil {
		t.Fatalf("second ingest: %v", err)
	}
	if second.Status != StatusCompleted || second.RowsInserted != 0 || second.RowsSkipped != 1 {
		t.Fatalf("expected the record to be skipped, got %+v", second)
	}

	// The skipped occurrence is recorded, not silently discarded.
	counts, err := landing.CountsByRun(ctx, second.RunID)
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if counts.Total != 1 || counts.Skipped != 1 {
		t.Fatalf("unexpected landing counts for second run: %+v", counts)
	}
}

func TestIngestSourceIsolation(t *testing.T) {
	service, _, _ := newTestService(t)
	ctx := context.Background()

	for i, src := range []string{"vendorA", "vendorB"} {
		result, err := service.Ingest(ctx, Request{
			SourceSystem:  src,
			SourceBatchID: "batch-1",
			Filename:      "p.csv",
			Kind:          "plaintiffs",
			Data:          strings.NewReader("name,email\nJohn Doe,john@x.com\n"),
		})
		if err != nil {
			t.Fatalf("ingest %d: %v", i, err)
		}
		if result.RowsInserted != 1 {
			t.Fatalf("source %s: identical record under a different source must land, got %+v", src, result)
		}
	}
}

func TestIngestMissingNameColumnAbortsRun(t *testing.T) {
	service, runs, landing := newTestService(t)
	ctx := context.Background()

	result, err := service.Ingest(ctx, Request{
		SourceSystem:  "vendorA",
		SourceBatchID: "batch-bad",
		Filename:      "bad.csv",
		Kind:          "plaintiffs",
		Data:          strings.NewReader("email,phone\njohn@x.com,555-0100\n"),
	})

	var missing *domain.MissingColumnsError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingColumnsError, got %v", err)
	}
	if len(missing.Columns) != 1 || missing.Columns[0] != FieldName {
		t.Fatalf("unexpected missing columns: %v", missing.Columns)
	}
	if result.Status != StatusFailed {
		t.Fatalf("expected failed result, got %s", result.Status)
	}

	run, err := runs.GetByID(ctx, result.RunID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if run.Status != domain.RunStatusFailed {
		t.Fatalf("expected failed run, got %s", run.Status)
	}
	if run.ErrorDetails == nil || len(run.ErrorDetails.MissingColumns) != 1 {
		t.Fatalf("expected missing columns in error details: %+v", run.ErrorDetails)
	}

	counts, err := landing.CountsByRun(ctx, result.RunID)
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if counts.Total != 0 {
		t.Fatalf("missing-column abort must land zero rows, got %+v", counts)
	}
}

func TestIngestRowMissingNameIsRecoverable(t *testing.T) {
	service, _, landing := newTestService(t)
	ctx := context.Background()

	result, err := service.Ingest(ctx, Request{
		SourceSystem:  "vendorA",
		SourceBatchID: "batch-rows",
		Filename:      "rows.csv",
		Kind:          "plaintiffs",
		Data:          strings.NewReader("name,email\n,noname@x.com\nJane Doe,jane@x.com\n"),
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}

	if result.Status != StatusCompleted {
		t.Fatalf("per-row errors must not fail the run, got %s", result.Status)
	}
	if result.RowsFetched != 2 || result.RowsInserted != 1 || result.RowsErrored != 1 {
		t.Fatalf("unexpected counts: %+v", result)
	}
	if len(result.ParseErrors) != 1 || result.ParseErrors[0].RowIndex != 0 {
		t.Fatalf("unexpected parse errors: %+v", result.ParseErrors)
	}

	rows, err := landing.ListByRunAndStatus(ctx, result.RunID, domain.RecordStatusParseError)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 1 || rows[0].ErrorCode != errCodeMissingField {
		t.Fatalf("parse_error row must be recorded: %+v", rows)
	}
}

func TestIngestHeaderAliases(t *testing.T) {
	service, _, _ := newTestService(t)

	data := "PlaintiffName,E-Mail\nJohn Doe,john@x.com\n"
	result, err := service.Ingest(context.Background(), Request{
		SourceSystem:  "vendorA",
		SourceBatchID: "batch-alias",
		Filename:      "alias.csv",
		Kind:          "plaintiffs",
		Data:          strings.NewReader(data),
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if result.RowsInserted != 1 {
		t.Fatalf("aliased headers must resolve, got %+v", result)
	}
}

func TestDryRunIsSideEffectFree(t *testing.T) {
	service, runs, _ := newTestService(t)
	ctx := context.Background()

	data := "name,email\nJohn Doe,john@x.com\nJohn Doe,john@x.com\n,blank@x.com\n"
	req := Request{
		SourceSystem:  "vendorA",
		SourceBatchID: "batch-dry",
		Filename:      "dry.csv",
		Kind:          "plaintiffs",
		Data:          strings.NewReader(data),
	}

	result, err := service.DryRun(ctx, req)
	if err != nil {
		t.Fatalf("dry run: %v", err)
	}
	if result.Status != StatusDryRun {
		t.Fatalf("expected dry_run status, got %s", result.Status)
	}
	if result.RowsFetched != 3 || result.RowsInserted != 1 || result.RowsSkipped != 1 || result.RowsErrored != 1 {
		t.Fatalf("unexpected dry run counts: %+v", result)
	}

	// No claim, no ledger entry, no landing rows; repeatable.
	listed, err := runs.List(ctx, 10, 0)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(listed) != 0 {
		t.Fatalf("dry run must not claim: %+v", listed)
	}

	again, err := service.DryRun(ctx, Request{
		SourceSystem:  "vendorA",
		SourceBatchID: "batch-dry",
		Filename:      "dry.csv",
		Kind:          "plaintiffs",
		Data:          strings.NewReader(data),
	})
	if err != nil {
		t.Fatalf("second dry run: %v", err)
	}
	if again.RowsInserted != result.RowsInserted || again.RowsSkipped != result.RowsSkipped || again.RowsErrored != result.RowsErrored {
		t.Fatalf("dry run must be repeatable: %+v vs %+v", again, result)
	}
}

// failingLandingStore wraps the memory store and fails Insert after a set
// number of successes, simulating lost storage connectivity mid-batch.
type failingLandingStore struct {
	*repository.MemoryRawRecordStore
	remaining int
}

func (s *failingLandingStore) Insert(ctx context.Context, rec domain.RawRecord) (bool, error) {
	if s.remaining <= 0 {
		return false, errors.New("connection refused")
	}
	s.remaining--
	return s.MemoryRawRecordStore.Insert(ctx, rec)
}

func TestIngestStorageFailureFailsRunWithPartialCounts(t *testing.T) {
	runs := repository.NewMemoryImportRunStore()
	landing := &failingLandingStore{MemoryRawRecordStore: repository.NewMemoryRawRecordStore(), remaining: 2}
	service := NewService(runs, landing, Options{ChunkSize: 2, ChunkParallelism: 1})
	ctx := context.Background()

	data := "name,email\nA,a@x.com\nB,b@x.com\nC,c@x.com\nD,d@x.com\n"
	result, err := service.Ingest(ctx, Request{
		SourceSystem:  "vendorA",
		SourceBatchID: "batch-fail",
		Filename:      "fail.csv",
		Kind:          "plaintiffs",
		Data:          strings.NewReader(data),
	})

	var storageErr *domain.StorageError
	if !errors.As(err, &storageErr) {
		t.Fatalf("expected StorageError, got %v", err)
	}
	if result.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", result.Status)
	}
	if result.RowsInserted != 2 {
		t.Fatalf("partial counts must be preserved, got %+v", result)
	}

	run, getErr := runs.GetByID(ctx, result.RunID)
	if getErr != nil {
		t.Fatalf("get run: %v", getErr)
	}
	if run.Status != domain.RunStatusFailed || run.RowsInserted != 2 {
		t.Fatalf("failed run must carry partial counts: %+v", run)
	}
}

func TestIngestUnsupportedFormat(t *testing.T) {
	service, runs, _ := newTestService(t)
	ctx := context.Background()

	result, err := service.Ingest(ctx, Request{
		SourceSystem:  "vendorA",
		SourceBatchID: "batch-pdf",
		Filename:      "export.pdf",
		Kind:          "plaintiffs",
		Data:          strings.NewReader("%PDF-1.4"),
	})
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}

	run, getErr := runs.GetByID(ctx, result.RunID)
	if getErr != nil {
		t.Fatalf("get run: %v", getErr)
	}
	if run.Status != domain.RunStatusFailed {
		t.Fatalf("expected failed run, got %s", run.Status)
	}
}

func TestIngestMalformedCSVRecordedAsUnreadable(t *testing.T) {
	service, runs, landing := newTestService(t)
	ctx := context.Background()

	// Unterminated quote; csv.Reader rejects the whole payload.
	data := "name,email\nJohn Doe,\"j@x.com\n"
	result, err := service.Ingest(ctx, Request{
		SourceSystem:  "vendorA",
		SourceBatchID: "batch-garbled",
		Filename:      "garbled.csv",
		Kind:          "plaintiffs",
		Data:          strings.NewReader(data),
	})
	if !errors.Is(err, ErrMalformedFile) {
		t.Fatalf("expected ErrMalformedFile, got %v", err)
	}
	if result.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", result.Status)
	}

	run, getErr := runs.GetByID(ctx, result.RunID)
	if getErr != nil {
		t.Fatalf("get run: %v", getErr)
	}
	if run.Status != domain.RunStatusFailed {
		t.Fatalf("expected failed run, got %s", run.Status)
	}
	if run.ErrorDetails == nil || run.ErrorDetails.Code != errCodeUnreadablePayload {
		t.Fatalf("garbled payload must be classified unreadable, got %+v", run.ErrorDetails)
	}

	counts, countErr := landing.CountsByRun(ctx, result.RunID)
	if countErr != nil {
		t.Fatalf("counts: %v", countErr)
	}
	if counts.Total != 0 {
		t.Fatalf("no rows may land for an unparseable file, got %d", counts.Total)
	}
}
