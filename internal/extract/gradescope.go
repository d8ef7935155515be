package extract

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/okian/rubricsync/internal/domain/model"
	"github.com/okian/rubricsync/internal/task"
)

// Gradescope export columns.
const (
	colSubmissionID = "Assignment Submission ID"
	colEmail        = "Email"
	colSID          = "SID"
	colScore        = "Score"
	colTags         = "Tags"
)

// Gradescope reads a per-question score export: either a single CSV or a
// zip of CSVs. Each row's Tags value names the assignment; label is used as
// the rubric item of every record.
func Gradescope(ctx context.Context, h *task.Handle, path, label string) ([]model.GradeRecord, error) {
	if strings.EqualFold(filepath.Ext(path), ".zip") {
		return gradescopeZip(ctx, h, path, label)
	}
	h.SetTotal(1)
	h.ReportProgress(0, "Resolved 0 out of 1 file(s)")
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	out, err := readGradescope(f, label)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	h.ReportProgress(1, "Resolved 1 out of 1 file(s)")
	return out, nil
}

func gradescopeZip(ctx context.Context, h *task.Handle, path, label string) ([]model.GradeRecord, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	files := make([]*zip.File, 0, len(zr.File))
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		files = append(files, f)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })

	h.SetTotal(len(files))
	h.ReportProgress(0, fmt.Sprintf("Resolved 0 out of %d file(s)", len(files)))
	var out []model.GradeRecord
	for i, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		records, err := readZipEntry(f, label)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f.Name, err)
		}
		out = append(out, records...)
		h.ReportProgress(i+1, fmt.Sprintf("Resolved %d out of %d file(s)", i+1, len(files)))
	}
	return out, nil
}

func readZipEntry(f *zip.File, label string) ([]model.GradeRecord, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return readGradescope(rc, label)
}

// readGradescope stops at the first row without a numeric submission id;
// exports append summary rows after the data. Rows without tags or with an
// empty score are ignored.
func readGradescope(r io.Reader, label string) ([]model.GradeRecord, error) {
	t, err := newTable(r, colSubmissionID, colEmail, colSID, colScore, colTags)
	if err != nil {
		return nil, err
	}
	var out []model.GradeRecord
	for {
		row, err := t.next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		id := row[colSubmissionID]
		if id == "" {
			return out, nil
		}
		if _, err := strconv.ParseInt(id, 10, 64); err != nil {
			return out, nil
		}
		tags := row[colTags]
		if tags == "" || row[colScore] == "" {
			continue
		}
		score, err := strconv.ParseFloat(row[colScore], 64)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: score %q", ErrMalformedRow, t.line, row[colScore])
		}
		out = append(out, model.GradeRecord{
			ExternalStudentID: row[colSID],
			Email:             row[colEmail],
			AssignmentLabel:   tags,
			RubricItemLabel:   label,
			Score:             score,
		})
	}
}
