package lms

import (
	"context"
	"sync"
	"time"

	"github.com/okian/rubricsync/internal/domain/model"
	"github.com/okian/rubricsync/internal/observe"
	"github.com/okian/rubricsync/pkg/logger"
)

// Job follows an asynchronous platform job until it completes, fails or is
// cancelled. Every fetched progress value is published to subscribers.
type Job struct {
	client   *Client
	interval time.Duration
	progress observe.Subject[model.JobProgress]

	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	err       error
	cancelled bool
}

func (c *Client) watch(ctx context.Context, initial model.JobProgress) *Job {
	ctx, cancel := context.WithCancel(ctx)
	j := &Job{
		client:   c,
		interval: c.pollInterval,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	j.progress.Publish(initial)
	go j.poll(ctx, initial)
	return j
}

// ID returns the platform id of the job.
func (j *Job) ID() string {
	p, _ := j.progress.Last()
	return p.ID
}

// Subscribe registers fn for progress updates; the current value is
// delivered immediately.
func (j *Job) Subscribe(fn func(model.JobProgress)) func() {
	return j.progress.Subscribe(fn)
}

// Current returns the latest known progress.
func (j *Job) Current() model.JobProgress {
	p, _ := j.progress.Last()
	return p
}

// Cancel stops polling. The job itself keeps running on the platform.
func (j *Job) Cancel() {
	j.mu.Lock()
	j.cancelled = true
	j.mu.Unlock()
	j.cancel()
}

// Done is closed once polling stops.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Wait blocks until polling stops and returns the last progress value.
func (j *Job) Wait(ctx context.Context) (model.JobProgress, error) {
	select {
	case <-ctx.Done():
		return j.Current(), ctx.Err()
	case <-j.done:
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.cancelled {
		return j.Current(), ErrJobCancelled
	}
	return j.Current(), j.err
}

func (j *Job) poll(ctx context.Context, current model.JobProgress) {
	defer close(j.done)
	defer j.progress.Close()
	defer j.cancel()

	t := time.NewTicker(j.interval)
	defer t.Stop()
	for !current.Terminal() {
		select {
		case <-ctx.Done():
			j.fail(ctx.Err())
			return
		case <-t.C:
		}
		p, err := j.client.GetProgress(ctx, current.ID)
		if err != nil {
			j.fail(err)
			if ctx.Err() == nil {
				j.client.logger.Error(ctx, "job polling failed", logger.String("job", current.ID), logger.Error(err))
			}
			return
		}
		current = p
		j.progress.Publish(p)
	}
}

func (j *Job) fail(err error) {
	j.mu.Lock()
	j.err = err
	j.mu.Unlock()
}
