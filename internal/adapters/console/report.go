package console

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/okian/rubricsync/internal/domain/model"
)

// Report is the persisted form of an outcome.
type Report struct {
	RunID          string                `yaml:"run_id"`
	Status         model.Status          `yaml:"status"`
	Error          string                `yaml:"error,omitempty"`
	UpdatedCount   int                   `yaml:"updated_count"`
	SkippedRecords []model.SkippedRecord `yaml:"skipped_records"`
	FailedUpdates  []model.FailedUpdate  `yaml:"failed_updates"`
}

// NewReport summarises out.
func NewReport(out model.Outcome) Report {
	r := Report{
		RunID:          out.RunID,
		Status:         out.Status,
		Error:          out.Error,
		UpdatedCount:   len(out.Updated),
		SkippedRecords: out.SkippedRecords,
		FailedUpdates:  out.FailedUpdates,
	}
	if r.SkippedRecords == nil {
		r.SkippedRecords = []model.SkippedRecord{}
	}
	if r.FailedUpdates == nil {
		r.FailedUpdates = []model.FailedUpdate{}
	}
	return r
}

// WriteReport encodes out as YAML.
func WriteReport(w io.Writer, out model.Outcome) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(NewReport(out)); err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	return enc.Close()
}

// WriteReportFile writes the YAML report to path, creating parent
// directories.
func WriteReportFile(path string, out model.Outcome) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating report directory: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating report: %w", err)
	}
	if err := WriteReport(f, out); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// Summary is a one-line description of out.
func Summary(out model.Outcome) string {
	s := fmt.Sprintf("%s: %d updated, %d skipped, %d failed",
		out.Status, len(out.Updated), len(out.SkippedRecords), len(out.FailedUpdates))
	if out.Error != "" {
		s += ": " + out.Error
	}
	return s
}

// WriteCourses lists courses one per line.
func WriteCourses(w io.Writer, courses []model.Course) error {
	for _, c := range courses {
		if _, err := fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", c.ID, c.Term, c.CreatedAt.Format("2006-01-02"), c.Name); err != nil {
			return err
		}
	}
	return nil
}

// WriteJobProgress prints one job progress line.
func WriteJobProgress(w io.Writer, p model.JobProgress) error {
	completion := "-"
	if p.Completion != nil {
		completion = fmt.Sprintf("%.0f%%", *p.Completion)
	}
	_, err := fmt.Fprintf(w, "job %s: %s %s %s\n", p.ID, p.WorkflowState, completion, p.Message)
	return err
}
