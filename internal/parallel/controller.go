// Package parallel runs a fixed set of independent jobs with bounded,
// dynamically admitted concurrency and selective per-job retries.
package parallel

import (
	"context"
	"fmt"
	"time"

	"github.com/okian/rubricsync/internal/observe"
	"github.com/okian/rubricsync/pkg/logger"
	"github.com/okian/rubricsync/pkg/metrics"
)

const defaultPollInterval = 5 * time.Second

// Job is one unit of work.
type Job[T any] func(ctx context.Context) (T, error)

// AdmitFunc reports whether another job may start while running are in
// flight.
type AdmitFunc func(running int) bool

// RetryFunc decides whether a failed job is queued again. attempt counts the
// failures of that job so far, starting at 1.
type RetryFunc func(err error, attempt int) bool

// Settlement is published after every job settles.
type Settlement struct {
	Completed int `json:"completed"`
	Errored   int `json:"errored"`
	Running   int `json:"running"`
	Total     int `json:"total"`
}

// Completed is a successful job.
type Completed[T any] struct {
	Index    int
	Value    T
	Attempts int
}

// Failure is a job that failed and was not retried.
type Failure struct {
	Index    int
	Err      error
	Attempts int
}

// Outcome holds every settled job. Entries are in settlement order, which
// need not match dispatch order.
type Outcome[T any] struct {
	Results  []Completed[T]
	Failures []Failure
}

// Controller executes job sets. A Controller may run one set at a time;
// subscribers see settlements of every run.
type Controller[T any] struct {
	settings
	progress observe.Subject[Settlement]
}

// New creates a controller.
func New[T any](opts ...Option) *Controller[T] {
	s := settings{
		name:         "parallel",
		pollInterval: defaultPollInterval,
		logger:       logger.Nop(),
	}
	for _, opt := range opts {
		opt(&s)
	}
	return &Controller[T]{settings: s}
}

// Subscribe registers fn for settlement counters.
func (c *Controller[T]) Subscribe(fn func(Settlement)) func() {
	return c.progress.Subscribe(fn)
}

type pending struct {
	index   int
	attempt int // failures so far
}

type settled[T any] struct {
	pending
	value T
	err   error
}

// Execute runs every job. Jobs start only while admit accepts the current
// running count; queued retries start before fresh jobs, newest first. When
// nothing runs and admit rejects, admission is re-checked every poll
// interval. A nil retry never retries.
//
// If ctx ends, in-flight jobs are cancelled and awaited and the partial
// outcome is returned with ctx's error.
func (c *Controller[T]) Execute(ctx context.Context, jobs []Job[T], admit AdmitFunc, retry RetryFunc) (Outcome[T], error) {
	var out Outcome[T]
	n := len(jobs)
	if n == 0 {
		return out, nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan settled[T], n)
	var (
		stack     []pending
		next      int
		running   int
		completed int
		errored   int
	)

	launch := func(p pending) {
		running++
		go func() {
			v, err := runJob(runCtx, jobs[p.index])
			done <- settled[T]{pending: p, value: v, err: err}
		}()
	}
	dispatch := func() {
		for (len(stack) > 0 || next < n) && admit(running) {
			if k := len(stack); k > 0 {
				p := stack[k-1]
				stack = stack[:k-1]
				launch(p)
				continue
			}
			launch(pending{index: next})
			next++
		}
		metrics.UpdateControllerRunning(running)
	}
	settle := func(s settled[T]) {
		running--
		attempts := s.attempt + 1
		switch {
		case s.err == nil:
			completed++
			out.Results = append(out.Results, Completed[T]{Index: s.index, Value: s.value, Attempts: attempts})
			metrics.RecordTaskSettlement("success")
		case retry != nil && runCtx.Err() == nil && retry(s.err, attempts):
			stack = append(stack, pending{index: s.index, attempt: attempts})
			metrics.RecordTaskSettlement("retried")
			c.logger.Debug(ctx, "job queued for retry",
				logger.String("controller", c.name),
				logger.Int("index", s.index),
				logger.Int("attempt", attempts),
				logger.Error(s.err),
			)
		default:
			errored++
			out.Failures = append(out.Failures, Failure{Index: s.index, Err: s.err, Attempts: attempts})
			metrics.RecordTaskSettlement("failed")
		}
		metrics.UpdateControllerRunning(running)
		c.progress.Publish(Settlement{Completed: completed, Errored: errored, Running: running, Total: n})
	}
	drain := func() {
		cancel()
		for running > 0 {
			settle(<-done)
		}
	}

	for completed+errored < n {
		if ctx.Err() != nil {
			drain()
			return out, ctx.Err()
		}
		dispatch()
		if running == 0 {
			c.logger.Info(ctx, "no job is running and admission is closed, waiting",
				logger.String("controller", c.name),
				logger.Duration("interval", c.pollInterval),
			)
			t := time.NewTimer(c.pollInterval)
			select {
			case <-ctx.Done():
				t.Stop()
				return out, ctx.Err()
			case <-t.C:
			}
			continue
		}
		select {
		case s := <-done:
			settle(s)
		case <-ctx.Done():
			drain()
			return out, ctx.Err()
		}
	}
	return out, nil
}

func runJob[T any](ctx context.Context, job Job[T]) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrJobPanicked, r)
		}
	}()
	return job(ctx)
}
