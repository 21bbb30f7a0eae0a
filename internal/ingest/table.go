package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/vanshika/churngraph/internal/domain"
)

type row struct {
	line   int
	fields []string
}

// table is a header-indexed delimited file held in memory.
type table struct {
	name    string
	columns map[string]int
	width   int
	rows    []row
	// broken rows that the CSV reader could not tokenise.
	broken []*domain.RecordError
}

// readTable reads a delimited file and checks the header for required columns.
// Column names are matched case-insensitively with surrounding spaces removed.
func readTable(name string, r io.Reader, required ...string) (*table, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: %s is empty", domain.ErrSchema, name)
		}
		return nil, fmt.Errorf("%w: read %s header: %v", domain.ErrSchema, name, err)
	}

	t := &table{name: name, columns: make(map[string]int, len(header)), width: len(header)}
	for i, col := range header {
		key := normalizeColumn(col)
		if _, dup := t.columns[key]; dup {
			return nil, fmt.Errorf("%w: %s has duplicate column %q", domain.ErrSchema, name, col)
		}
		t.columns[key] = i
	}
	var missing []string
	for _, col := range required {
		if _, ok := t.columns[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s is missing required columns %s", domain.ErrSchema, name, strings.Join(missing, ", "))
	}

	for {
		fields, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line, _ := reader.FieldPos(0)
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				t.broken = append(t.broken, &domain.RecordError{
					Stage:  domain.StageNormalize,
					Entity: name,
					Line:   perr.Line,
					Reason: perr.Err.Error(),
					Kind:   domain.ErrMalformedRecord,
				})
				continue
			}
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		if len(fields) == 1 && strings.TrimSpace(fields[0]) == "" {
			continue
		}
		t.rows = append(t.rows, row{line: line, fields: fields})
	}
	return t, nil
}

// get returns the trimmed value of column col for r, or "" when absent.
func (t *table) get(r row, col string) string {
	idx, ok := t.columns[col]
	if !ok || idx >= len(r.fields) {
		return ""
	}
	return strings.TrimSpace(r.fields[idx])
}

func normalizeColumn(col string) string {
	col = strings.TrimPrefix(col, "\ufeff")
	col = strings.ToLower(strings.TrimSpace(col))
	return strings.ReplaceAll(col, " ", "_")
}
