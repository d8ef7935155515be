package extract

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/okian/rubricsync/internal/domain/model"
	"github.com/okian/rubricsync/internal/task"
)

// Record CSV columns.
const (
	colRecordSIS        = "sis_id"
	colRecordEmail      = "email"
	colRecordAssignment = "assignment"
	colRecordRubricItem = "rubric_item"
	colRecordGrade      = "grade"
)

// Records reads a plain CSV with the header
// sis_id,email,assignment,rubric_item,grade. An empty rubric_item falls
// back to label.
func Records(ctx context.Context, h *task.Handle, path, label string) ([]model.GradeRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	h.SetTotal(1)
	h.ReportProgress(0, "Reading records")
	t, err := newTable(f, colRecordSIS, colRecordEmail, colRecordAssignment, colRecordRubricItem, colRecordGrade)
	if err != nil {
		return nil, err
	}
	var out []model.GradeRecord
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		row, err := t.next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if row[colRecordSIS] == "" && row[colRecordEmail] == "" {
			return nil, fmt.Errorf("%w: line %d: neither sis_id nor email", ErrMalformedRow, t.line)
		}
		grade, err := strconv.ParseFloat(row[colRecordGrade], 64)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: grade %q", ErrMalformedRow, t.line, row[colRecordGrade])
		}
		item := row[colRecordRubricItem]
		if item == "" {
			item = label
		}
		out = append(out, model.GradeRecord{
			ExternalStudentID: row[colRecordSIS],
			Email:             row[colRecordEmail],
			AssignmentLabel:   row[colRecordAssignment],
			RubricItemLabel:   item,
			Score:             grade,
		})
		if len(out)%100 == 0 {
			h.ReportProgress(0, fmt.Sprintf("Read %d record(s)", len(out)))
		}
	}
	h.ReportProgress(1, fmt.Sprintf("Read %d record(s)", len(out)))
	return out, nil
}
