// Package backoff retries a single operation with exponentially growing
// delays until an acceptance check passes or the retry budget runs out.
package backoff

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/okian/rubricsync/pkg/logger"
)

// Default executor configuration constants.
const (
	defaultMaxRetries = 3
	defaultBaseDelay  = time.Second
	defaultGrowth     = 2.0
)

// Operation is the unit retried by Execute.
type Operation[T any] func(ctx context.Context) (T, error)

// AcceptFunc decides whether an attempt ends the retry loop. Accepting an
// attempt that carries an error means "stop retrying and propagate it".
type AcceptFunc[T any] func(result T, err error) bool

// AcceptNoError accepts only attempts that returned no error.
func AcceptNoError[T any](_ T, err error) bool { return err == nil }

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Executor holds the retry policy. It is safe for concurrent use.
type Executor struct {
	maxRetries int
	baseDelay  time.Duration
	growth     float64
	sleep      SleepFunc
	onRetry    func(attempt int, delay time.Duration, err error)
	logger     logger.Logger
}

// Option applies a configuration option to the Executor.
type Option func(*Executor)

// WithMaxRetries sets how many retries follow the first attempt.
func WithMaxRetries(n int) Option {
	return func(e *Executor) {
		if n >= 0 {
			e.maxRetries = n
		}
	}
}

// WithBaseDelay sets the wait before the first retry.
func WithBaseDelay(d time.Duration) Option {
	return func(e *Executor) {
		if d >= 0 {
			e.baseDelay = d
		}
	}
}

// WithGrowth sets the multiplier applied to the delay after every retry.
func WithGrowth(g float64) Option {
	return func(e *Executor) {
		if g >= 1 {
			e.growth = g
		}
	}
}

// WithSleep replaces the timer-based wait, mainly for tests.
func WithSleep(fn SleepFunc) Option {
	return func(e *Executor) {
		if fn != nil {
			e.sleep = fn
		}
	}
}

// WithOnRetry registers a hook called before each retry wait.
func WithOnRetry(fn func(attempt int, delay time.Duration, err error)) Option {
	return func(e *Executor) {
		e.onRetry = fn
	}
}

// WithLogger sets a custom logger for the executor.
func WithLogger(l logger.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// New creates an Executor with the platform defaults: 3 retries starting at
// one second and doubling.
func New(opts ...Option) *Executor {
	e := &Executor{
		maxRetries: defaultMaxRetries,
		baseDelay:  defaultBaseDelay,
		growth:     defaultGrowth,
		sleep:      sleepContext,
		logger:     logger.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// MaxRetries returns the configured retry budget.
func (e *Executor) MaxRetries() int { return e.maxRetries }

// Delay returns the wait before retry number attempt (zero based).
func (e *Executor) Delay(attempt int) time.Duration {
	return time.Duration(float64(e.baseDelay) * math.Pow(e.growth, float64(attempt)))
}

// Execute runs op until accept passes, invoking it at most MaxRetries()+1
// times. A nil accept behaves like AcceptNoError. When the budget is spent
// the last error is returned, or ErrRejected if the last attempt had none.
func Execute[T any](ctx context.Context, e *Executor, op Operation[T], accept AcceptFunc[T]) (T, error) {
	if accept == nil {
		accept = AcceptNoError[T]
	}
	var zero T
	for attempt := 0; ; attempt++ {
		result, err := op(ctx)
		if accept(result, err) {
			if err != nil {
				return zero, err
			}
			return result, nil
		}
		if attempt >= e.maxRetries {
			if err != nil {
				return zero, err
			}
			return zero, ErrRejected
		}

		delay := e.Delay(attempt)
		if e.onRetry != nil {
			e.onRetry(attempt+1, delay, err)
		}
		e.logger.Debug(ctx, "retrying operation",
			logger.Int("attempt", attempt+1),
			logger.Duration("delay", delay),
			logger.Any("cause", err),
		)
		if serr := e.sleep(ctx, delay); serr != nil {
			return zero, fmt.Errorf("backoff interrupted: %w", serr)
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
