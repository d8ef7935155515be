// Package model contains domain models passed between layers.
package model

import "time"

// GradeRecord is one raw score produced by an extractor. It is immutable once
// produced; skipping it yields a SkippedRecord instead of mutating it.
type GradeRecord struct {
	ExternalStudentID string  `json:"sis_id,omitempty" yaml:"sis_id,omitempty"` // institution id, optional
	Email             string  `json:"email,omitempty" yaml:"email,omitempty"`   // optional
	AssignmentLabel   string  `json:"assignment" yaml:"assignment"`
	RubricItemLabel   string  `json:"rubric_item" yaml:"rubric_item"`
	Score             float64 `json:"grade" yaml:"grade"`
}

// SkippedRecord is a GradeRecord that did not match and the reason why.
type SkippedRecord struct {
	GradeRecord `yaml:",inline"`
	Error       string `json:"error" yaml:"error"`
}

// Skip returns the record annotated with reason.
func (r GradeRecord) Skip(reason string) SkippedRecord {
	return SkippedRecord{GradeRecord: r, Error: reason}
}

// Student is a roster entry. Identity key is ID.
type Student struct {
	ID                string
	Name              string
	ExternalStudentID string
	Email             string
}

// RubricItem is a scorable criterion of an assignment.
type RubricItem struct {
	ID          string
	Description string
	Points      float64
}

// Assignment is a course assignment. Rubric is nil when the assignment
// exposes no rubric at all.
type Assignment struct {
	ID     string
	Name   string
	Rubric []RubricItem
}

// HasRubric reports whether the platform exposed a rubric for the assignment.
func (a Assignment) HasRubric() bool { return a.Rubric != nil }

// Course is a course visible to the authenticated user.
type Course struct {
	ID        string
	Name      string
	Term      string
	CreatedAt time.Time
}

// RubricAssessment maps rubric item ids to their assessment, e.g.
// {"_123": {"points": 4}}.
type RubricAssessment = map[string]any

// Submission is a student's submission for an assignment.
type Submission struct {
	ID               string
	AssignmentID     string
	StudentID        string
	RubricAssessment RubricAssessment // nil when the submission was never assessed
}

// GradeUpdate is a merged rubric assessment ready for upload.
type GradeUpdate struct {
	StudentID        string           `json:"user_id" yaml:"user_id"`
	AssignmentID     string           `json:"assignment_id" yaml:"assignment_id"`
	RubricAssessment RubricAssessment `json:"rubric_assessment" yaml:"rubric_assessment"`
}

// FailedUpdate is a GradeUpdate whose upload failed.
type FailedUpdate struct {
	GradeUpdate `yaml:",inline"`
	Error       string `json:"error" yaml:"error"`
}

// JobProgress mirrors the platform's asynchronous progress object.
type JobProgress struct {
	ID            string
	Completion    *float64
	WorkflowState string
	Message       string
	Results       []byte // raw JSON, nil when absent
}

// Terminal reports whether the job reached completed or failed.
func (p JobProgress) Terminal() bool {
	return p.WorkflowState == JobCompleted || p.WorkflowState == JobFailed
}

// Job workflow states.
const (
	JobQueued    = "queued"
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
)
