// Package task runs observable, cancellable units of work that report
// progress and may suspend for an operator's yes/no decision.
package task

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okian/rubricsync/internal/domain/model"
	"github.com/okian/rubricsync/internal/observe"
	"github.com/okian/rubricsync/pkg/logger"
)

// Progress is a snapshot published on every change.
type Progress struct {
	Task     string  `json:"task"`
	Done     int     `json:"done"`
	Total    int     `json:"total"`
	Fraction float64 `json:"fraction"`
	Message  string  `json:"message,omitempty"`
}

// ConfirmationRequest suspends a task until a decision is sent on Result.
// Result is buffered; the consumer must send exactly once.
type ConfirmationRequest struct {
	ID          uuid.UUID
	Task        string
	Description string
	Skipped     []model.SkippedRecord
	Result      chan<- bool
}

// Func is the body of a task.
type Func[T any] func(ctx context.Context, h *Handle) (T, error)

// Result distinguishes a completed task from one that exited early.
type Result[T any] struct {
	Value  T
	Exited bool
}

// Option applies a configuration option to a Task.
type Option func(*config)

type config struct {
	confirm chan<- ConfirmationRequest
	logger  logger.Logger
}

// WithConfirmations sets the channel confirmation requests are sent on.
func WithConfirmations(ch chan<- ConfirmationRequest) Option {
	return func(c *config) {
		c.confirm = ch
	}
}

// WithLogger sets a custom logger for the task.
func WithLogger(l logger.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// Task is a named unit of work returning T.
type Task[T any] struct {
	fn Func[T]
	h  *Handle
}

// New creates a task; it does not start it.
func New[T any](name string, fn Func[T], opts ...Option) *Task[T] {
	cfg := config{logger: logger.Nop()}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Task[T]{
		fn: fn,
		h:  &Handle{name: name, confirm: cfg.confirm, logger: cfg.logger},
	}
}

// Subscribe registers fn for progress snapshots.
func (t *Task[T]) Subscribe(fn func(Progress)) func() {
	return t.h.progress.Subscribe(fn)
}

// Progress returns the current snapshot.
func (t *Task[T]) Progress() Progress {
	return t.h.Snapshot()
}

// Execute runs the task body. An ErrExitedEarly return becomes
// Result{Exited: true} with a nil error; other errors are returned as-is.
func (t *Task[T]) Execute(ctx context.Context) (Result[T], error) {
	start := time.Now()
	v, err := t.fn(ctx, t.h)
	switch {
	case errors.Is(err, ErrExitedEarly):
		t.h.logger.Debug(ctx, "task exited early", logger.String("task", t.h.name), logger.Duration("elapsed", time.Since(start)))
		return Result[T]{Exited: true}, nil
	case err != nil:
		return Result[T]{}, err
	}
	t.h.logger.Debug(ctx, "task finished", logger.String("task", t.h.name), logger.Duration("elapsed", time.Since(start)))
	return Result[T]{Value: v}, nil
}

// Handle is what a task body uses to talk to its observers.
type Handle struct {
	name    string
	confirm chan<- ConfirmationRequest
	logger  logger.Logger

	mu       sync.Mutex
	done     int
	total    int
	message  string
	progress observe.Subject[Progress]
}

// Name returns the task name.
func (h *Handle) Name() string { return h.name }

// SetTotal sets the amount of work and publishes the new fraction.
func (h *Handle) SetTotal(n int) {
	h.mu.Lock()
	h.total = n
	p := h.snapshotLocked()
	h.mu.Unlock()
	h.progress.Publish(p)
}

// ReportProgress records done units and an optional status message.
func (h *Handle) ReportProgress(done int, message string) {
	h.mu.Lock()
	h.done = done
	h.message = message
	p := h.snapshotLocked()
	h.mu.Unlock()
	h.progress.Publish(p)
}

// Snapshot returns the current progress.
func (h *Handle) Snapshot() Progress {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.snapshotLocked()
}

func (h *Handle) snapshotLocked() Progress {
	p := Progress{Task: h.name, Done: h.done, Total: h.total, Message: h.message}
	if h.total > 0 {
		p.Fraction = float64(h.done) / float64(h.total)
		if p.Fraction > 1 {
			p.Fraction = 1
		}
		if p.Fraction < 0 {
			p.Fraction = 0
		}
	}
	return p
}

// RequestConfirmation blocks until the operator answers or ctx ends.
func (h *Handle) RequestConfirmation(ctx context.Context, description string, skipped []model.SkippedRecord) (bool, error) {
	if h.confirm == nil {
		return false, ErrNoConfirmer
	}
	result := make(chan bool, 1)
	req := ConfirmationRequest{
		ID:          uuid.New(),
		Task:        h.name,
		Description: description,
		Skipped:     skipped,
		Result:      result,
	}
	h.logger.Info(ctx, "waiting for confirmation",
		logger.String("task", h.name),
		logger.String("request", req.ID.String()),
		logger.Int("skipped", len(skipped)),
	)
	select {
	case h.confirm <- req:
	case <-ctx.Done():
		return false, ctx.Err()
	}
	select {
	case ok := <-result:
		return ok, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// ExitEarly returns the short-circuit signal; return it from the task body.
func (h *Handle) ExitEarly() error {
	return ErrExitedEarly
}
