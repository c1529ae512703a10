package ingestion

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/recoverops/intake/internal/domain"

	"github.com/xuri/excelize/v2"
)

var (
	// ErrUnsupportedFormat is returned when an uploaded file is not supported.
	ErrUnsupportedFormat = errors.New("unsupported file format")

	// ErrEmptyFile is returned for a payload with no rows at all.
	ErrEmptyFile = errors.New("file is empty")

	// ErrMalformedFile is returned when the payload has a supported extension
	// but the bytes cannot be parsed, such as a CSV with an unterminated quote
	// or a corrupt xlsx archive.
	ErrMalformedFile = errors.New("file could not be parsed")

	byteOrderMark = []byte{0xEF, 0xBB, 0xBF}
)

// ParsedRow is one data row with headers resolved to canonical field names.
// Fields holds every cell, canonical names first; unknown columns keep their
// normalized header so nothing the vendor sent is lost.
type ParsedRow struct {
	RowIndex int
	Fields   map[string]string
}

// Name returns the canonical name cell, unnormalized.
func (r ParsedRow) Name() string { return r.Fields[FieldName] }

// Email returns the canonical email cell; missing means empty string.
func (r ParsedRow) Email() string { return r.Fields[FieldEmail] }

type parsedFile struct {
	columns []string // canonical (or normalized raw) header per column
	rows    []ParsedRow
}

// parseTable reads a CSV or XLSX payload and resolves its headers through the
// alias table. A header set missing any required canonical column aborts
// parsing with MissingColumnsError before a single row is assembled.
func parseTable(fileName string, payload []byte, aliases AliasTable) (parsedFile, error) {
	ext := strings.ToLower(filepath.Ext(fileName))
	var (
		records [][]string
		err     error
	)
	switch ext {
	case ".csv", "":
		records, err = readCSV(payload)
	case ".xlsx":
		records, err = readExcel(payload)
	default:
		return parsedFile{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
	if err != nil {
		return parsedFile{}, err
	}
	if len(records) == 0 {
		return parsedFile{}, ErrEmptyFile
	}

	return mapHeaders(records, aliases)
}

func readCSV(payload []byte) ([][]string, error) {
	reader := bufio.NewReader(bytes.NewReader(payload))
	if prefix, err := reader.Peek(len(byteOrderMark)); err == nil && bytes.Equal(prefix, byteOrderMark) {
		_, _ = reader.Discard(len(byteOrderMark))
	}

	csvReader := csv.NewReader(reader)
	csvReader.TrimLeadingSpace = true
	csvReader.FieldsPerRecord = -1

	records, err := csvReader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: csv: %v", ErrMalformedFile, err)
	}
	return records, nil
}

func readExcel(payload []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: xlsx: %v", ErrMalformedFile, err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%w: xlsx has no sheets", ErrMalformedFile)
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("%w: xlsx rows: %v", ErrMalformedFile, err)
	}
	return rows, nil
}

func mapHeaders(records [][]string, aliases AliasTable) (parsedFile, error) {
	headerRow := records[0]
	columns := make([]string, len(headerRow))
	seen := make(map[string]bool, len(headerRow))

	for i, raw := range headerRow {
		if canonical, ok := aliases.Canonical(raw); ok {
			columns[i] = canonical
		} else {
			columns[i] = normalizeHeader(raw)
		}
		seen[columns[i]] = true
	}

	var missing []string
	for _, required := range aliases.Required {
		if !seen[required] {
			missing = append(missing, required)
		}
	}
	if len(missing) > 0 {
		return parsedFile{}, &domain.MissingColumnsError{Columns: missing}
	}

	rows := make([]ParsedRow, 0, len(records)-1)
	for idx, record := range records[1:] {
		if isEmptyRow(record) {
			continue
		}
		record = padRow(record, len(columns))

		fields := make(map[string]string, len(columns))
		for col, name := range columns {
			if name == "" {
				continue
			}
			fields[name] = strings.TrimSpace(record[col])
		}
		rows = append(rows, ParsedRow{RowIndex: idx, Fields: fields})
	}

	return parsedFile{columns: columns, rows: rows}, nil
}

func isEmptyRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

func padRow(row []string, length int) []string {
	if len(row) >= length {
		return row[:length]
	}
	padded := make([]string, length)
	copy(padded, row)
	return padded
}
