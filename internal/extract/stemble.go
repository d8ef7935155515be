package extract

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/okian/rubricsync/internal/domain/model"
	"github.com/okian/rubricsync/internal/task"
)

// stembleEmail is the header of the student email column.
const stembleEmail = "Email"

// Columns that describe the student rather than a graded assignment.
var stembleSkipped = []string{"Student Name", stembleEmail, "Section", "Tasks with Possible Grade Extraction Error"} //nolint:gochecknoglobals // static header table

// Stemble reads the first worksheet of a Stemble gradebook workbook. See
// StembleSheet.
func Stemble(ctx context.Context, h *task.Handle, path, label string) ([]model.GradeRecord, error) {
	return StembleSheet("")(ctx, h, path, label)
}

// StembleSheet returns an extractor for the named worksheet of a Stemble
// gradebook; an empty name selects the first one. Every header other than
// the student columns names an assignment, and each non-empty cell under it
// becomes a record for the row's email with label as the rubric item.
func StembleSheet(sheet string) Func {
	return func(ctx context.Context, h *task.Handle, path, label string) ([]model.GradeRecord, error) {
		h.SetTotal(2)
		h.ReportProgress(0, "Loading the uploaded file")
		f, err := excelize.OpenFile(path)
		if err != nil {
			return nil, err
		}
		defer func() { _ = f.Close() }()

		name := sheet
		sheets := f.GetSheetList()
		if name == "" && len(sheets) > 0 {
			name = sheets[0]
		}
		if !slices.Contains(sheets, name) {
			return nil, fmt.Errorf("%w: %q", ErrMissingSheet, name)
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		h.ReportProgress(1, "Resolving records from the loaded content")
		rows, err := f.GetRows(name)
		if err != nil {
			return nil, err
		}
		out, err := readStemble(rows, label)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		h.ReportProgress(2, fmt.Sprintf("Resolved %d record(s)", len(out)))
		return out, nil
	}
}

type stembleColumn struct {
	index      int
	assignment string
}

// readStemble treats the first row as the header. Header cells end at the
// second consecutive empty cell.
func readStemble(rows [][]string, label string) ([]model.GradeRecord, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrMissingColumn, stembleEmail)
	}
	emailCol := -1
	var cols []stembleColumn
	empty := 0
	for i, v := range rows[0] {
		v = strings.TrimSpace(v)
		if v == "" {
			empty++
			if empty > 1 {
				break
			}
			continue
		}
		empty = 0
		if v == stembleEmail {
			emailCol = i
		}
		if slices.Contains(stembleSkipped, v) {
			continue
		}
		cols = append(cols, stembleColumn{index: i, assignment: v})
	}
	if emailCol < 0 {
		return nil, fmt.Errorf("%w: %q", ErrMissingColumn, stembleEmail)
	}

	var out []model.GradeRecord
	for r, row := range rows[1:] {
		if emailCol >= len(row) {
			continue
		}
		email := strings.TrimSpace(row[emailCol])
		if email == "" {
			continue
		}
		for _, c := range cols {
			if c.index >= len(row) {
				continue
			}
			value := strings.TrimSpace(row[c.index])
			if value == "" {
				continue
			}
			score, err := strconv.ParseFloat(value, 64)
			if err != nil {
				cell, _ := excelize.CoordinatesToCellName(c.index+1, r+2)
				return nil, fmt.Errorf("%w: cell %s: score %q", ErrMalformedRow, cell, value)
			}
			out = append(out, model.GradeRecord{
				Email:           email,
				AssignmentLabel: c.assignment,
				RubricItemLabel: label,
				Score:           score,
			})
		}
	}
	return out, nil
}
