// Package extract turns exported score files into grade records.
package extract

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/okian/rubricsync/internal/domain/model"
	"github.com/okian/rubricsync/internal/task"
)

// Func reads the file at path and returns its grade records. label names
// the grading target the file belongs to.
type Func = func(ctx context.Context, h *task.Handle, path, label string) ([]model.GradeRecord, error)

// Supported formats.
const (
	FormatGradescope = "gradescope"
	FormatRecords    = "records"
	FormatStemble    = "stemble"
)

var registry = map[string]Func{ //nolint:gochecknoglobals // static format table
	FormatGradescope: Gradescope,
	FormatRecords:    Records,
	FormatStemble:    Stemble,
}

// Lookup returns the extractor registered for format.
func Lookup(format string) (Func, error) {
	fn, ok := registry[strings.ToLower(strings.TrimSpace(format))]
	if !ok {
		return nil, fmt.Errorf("%w: %q (supported: %s)", ErrUnknownFormat, format, strings.Join(Formats(), ", "))
	}
	return fn, nil
}

// Formats lists the supported format names.
func Formats() []string {
	out := make([]string, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// table is a CSV reader addressing columns by header name.
type table struct {
	r    *csv.Reader
	cols map[string]int
	line int
}

func newTable(r io.Reader, required ...string) (*table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("%w: empty file", ErrMissingColumn)
	}
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		if _, dup := cols[h]; !dup {
			cols[h] = i
		}
	}
	for _, name := range required {
		if _, ok := cols[name]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrMissingColumn, name)
		}
	}
	return &table{r: cr, cols: cols, line: 1}, nil
}

// next returns the following row, skipping rows the CSV reader rejects.
// It returns io.EOF at the end.
func (t *table) next() (map[string]string, error) {
	for {
		row, err := t.r.Read()
		if err == io.EOF {
			return nil, io.EOF
		}
		t.line++
		var pe *csv.ParseError
		if errors.As(err, &pe) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out := make(map[string]string, len(t.cols))
		for name, i := range t.cols {
			if i < len(row) {
				out[name] = strings.TrimSpace(row[i])
			}
		}
		return out, nil
	}
}
