// Package service runs the grade reconciliation pipeline: it resolves raw
// records, matches them to students and rubric items, merges them into
// existing assessments and uploads the result under the platform's budget.
package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okian/rubricsync/internal/adapters/lms"
	"github.com/okian/rubricsync/internal/domain/model"
	"github.com/okian/rubricsync/internal/observe"
	"github.com/okian/rubricsync/internal/pagination"
	"github.com/okian/rubricsync/internal/task"
	"github.com/okian/rubricsync/pkg/logger"
	"github.com/okian/rubricsync/pkg/metrics"
)

// Default pipeline configuration constants.
const (
	defaultQuotaFloor     = 150.0
	defaultMaxInFlight    = 10
	defaultUploadAttempts = 3
	defaultPollInterval   = 5 * time.Second
)

// API is the part of the platform client the pipeline needs.
type API interface {
	ListStudents(ctx context.Context, courseID string) (*pagination.Cursor[model.Student], error)
	ListAssignments(ctx context.Context, courseID string) (*pagination.Cursor[model.Assignment], error)
	ListSubmissions(ctx context.Context, courseID, assignmentID string) (*pagination.Cursor[model.Submission], error)
	GetSubmission(ctx context.Context, courseID, assignmentID, studentID string) (model.Submission, error)
	SubmitRubricGrade(ctx context.Context, courseID, assignmentID, studentID string, assessment model.RubricAssessment) error
}

// Budget estimates the request budget available right now.
type Budget interface {
	Available() float64
}

// Extractor turns an uploaded file into grade records. label names the
// rubric item or grading target the file belongs to.
type Extractor func(ctx context.Context, h *task.Handle, path, label string) ([]model.GradeRecord, error)

// Request describes one reconciliation run.
type Request struct {
	CourseID string
	File     string
	Label    string
	Extract  Extractor
}

// State is the pipeline's position in its state machine.
type State string

// Pipeline states.
const (
	StateIdle                State = "idle"
	StateResolving           State = "resolving"
	StateMatchingStudents    State = "matching_students"
	StateMatchingAssignments State = "matching_assignments"
	StateTransforming        State = "transforming"
	StateUploading           State = "uploading"
	StateFinished            State = "finished"
	StateAborted             State = "aborted"
	StateErrored             State = "errored"
)

// Status is a snapshot of the current or last run.
type Status struct {
	RunID string        `json:"run_id,omitempty"`
	State State         `json:"state"`
	Stage task.Progress `json:"stage"`
	Item  task.Progress `json:"item"`
}

// Service implements the reconciliation pipeline. Runs are serialised.
type Service struct {
	api    API
	budget Budget

	confirm        chan<- task.ConfirmationRequest
	quotaFloor     float64
	maxInFlight    int
	uploadAttempts int
	pollInterval   time.Duration
	rateLimited    func(error) bool

	runMu  sync.Mutex
	mu     sync.RWMutex
	status Status
	stages observe.Subject[task.Progress]
	items  observe.Subject[task.Progress]

	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithBudget sets the quota estimate consulted before each upload.
func WithBudget(b Budget) Option {
	return func(s *Service) {
		if b != nil {
			s.budget = b
		}
	}
}

// WithConfirmations sets the channel confirmation checkpoints are sent on.
func WithConfirmations(ch chan<- task.ConfirmationRequest) Option {
	return func(s *Service) {
		s.confirm = ch
	}
}

// WithQuotaFloor sets the budget that must remain available to start an upload.
func WithQuotaFloor(floor float64) Option {
	return func(s *Service) {
		if floor >= 0 {
			s.quotaFloor = floor
		}
	}
}

// WithMaxInFlight bounds concurrent uploads.
func WithMaxInFlight(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxInFlight = n
		}
	}
}

// WithUploadAttempts sets how many times a throttled upload is retried.
func WithUploadAttempts(n int) Option {
	return func(s *Service) {
		if n >= 0 {
			s.uploadAttempts = n
		}
	}
}

// WithPollInterval sets the admission re-check interval of the uploader.
func WithPollInterval(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// WithRateLimitCheck replaces the classifier deciding which upload errors
// are retried.
func WithRateLimitCheck(fn func(error) bool) Option {
	return func(s *Service) {
		if fn != nil {
			s.rateLimited = fn
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New constructs a Service on top of api.
func New(api API, opts ...Option) *Service {
	s := &Service{
		api:            api,
		quotaFloor:     defaultQuotaFloor,
		maxInFlight:    defaultMaxInFlight,
		uploadAttempts: defaultUploadAttempts,
		pollInterval:   defaultPollInterval,
		rateLimited:    lms.IsRateLimited,
		status:         Status{State: StateIdle},
		logger:         logger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SubscribeStage registers fn for stage-level progress (five steps).
func (s *Service) SubscribeStage(fn func(task.Progress)) func() {
	return s.stages.Subscribe(fn)
}

// SubscribeItem registers fn for item-level progress of the active stage.
func (s *Service) SubscribeItem(fn func(task.Progress)) func() {
	return s.items.Subscribe(fn)
}

// Status returns the current run snapshot.
func (s *Service) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *Service) setState(st State) {
	s.mu.Lock()
	s.status.State = st
	s.mu.Unlock()
}

func (s *Service) publishStage(p task.Progress) {
	s.mu.Lock()
	s.status.Stage = p
	s.mu.Unlock()
	s.stages.Publish(p)
}

func (s *Service) publishItem(p task.Progress) {
	s.mu.Lock()
	s.status.Item = p
	s.mu.Unlock()
	s.items.Publish(p)
}

// Run executes the pipeline once. The outcome always carries every record
// skipped and every update failed before the run ended.
func (s *Service) Run(ctx context.Context, req Request) model.Outcome {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	r := &run{
		svc: s,
		req: req,
		out: model.Outcome{
			RunID:          uuid.NewString(),
			SkippedRecords: []model.SkippedRecord{},
			FailedUpdates:  []model.FailedUpdate{},
			Updated:        []model.GradeUpdate{},
		},
	}
	s.mu.Lock()
	s.status = Status{RunID: r.out.RunID, State: StateIdle}
	s.mu.Unlock()

	log := s.logger.Named("pipeline")
	log.Info(ctx, "reconciliation started",
		logger.String("run_id", r.out.RunID),
		logger.String("course", req.CourseID),
		logger.String("file", req.File),
		logger.String("label", req.Label),
	)

	root := task.New("reconcile", r.execute, task.WithConfirmations(s.confirm), task.WithLogger(log))
	unsubscribe := root.Subscribe(s.publishStage)
	defer unsubscribe()

	res, err := root.Execute(ctx)
	switch {
	case err != nil:
		r.out.Status = model.StatusErrored
		r.out.Error = err.Error()
		s.setState(StateErrored)
		log.Error(ctx, "reconciliation failed", logger.String("run_id", r.out.RunID), logger.Error(err))
	case res.Exited:
		r.out.Status = model.StatusAborted
		s.setState(StateAborted)
		log.Warn(ctx, "reconciliation aborted", logger.String("run_id", r.out.RunID))
	default:
		r.out.Status = model.StatusFinished
		s.setState(StateFinished)
		log.Info(ctx, "reconciliation finished", logger.String("run_id", r.out.RunID))
	}

	metrics.RecordPipelineRun(string(r.out.Status))
	metrics.RecordPipelineRecords("skipped", len(r.out.SkippedRecords))
	metrics.RecordPipelineRecords("failed", len(r.out.FailedUpdates))
	metrics.RecordPipelineRecords("updated", len(r.out.Updated))
	log.Info(ctx, "reconciliation summary",
		logger.String("run_id", r.out.RunID),
		logger.String("status", string(r.out.Status)),
		logger.Int("updated", len(r.out.Updated)),
		logger.Int("skipped", len(r.out.SkippedRecords)),
		logger.Int("failed", len(r.out.FailedUpdates)),
	)
	return r.out
}
