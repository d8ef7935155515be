package model

// Status is the terminal state of a reconciliation run.
type Status string

// Terminal statuses.
const (
	StatusFinished Status = "finished"
	StatusAborted  Status = "aborted"
	StatusErrored  Status = "errored"
)

// Outcome is the terminal report of a reconciliation run. Skip and fail
// lists accumulated before an abort or error are always kept.
type Outcome struct {
	RunID          string          `json:"run_id" yaml:"run_id"`
	Status         Status          `json:"status" yaml:"status"`
	Error          string          `json:"error,omitempty" yaml:"error,omitempty"`
	SkippedRecords []SkippedRecord `json:"skipped_records" yaml:"skipped_records"`
	FailedUpdates  []FailedUpdate  `json:"failed_updates" yaml:"failed_updates"`
	Updated        []GradeUpdate   `json:"updated" yaml:"updated"`
}
