package console

import (
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/okian/rubricsync/internal/task"
)

// ProgressPrinter writes stage and item progress lines. Stage changes are
// always printed; item updates are throttled except for the final one.
type ProgressPrinter struct {
	mu        sync.Mutex
	out       io.Writer
	limiter   *rate.Limiter
	lastStage string
}

// NewProgressPrinter prints at most perSecond item updates per second.
func NewProgressPrinter(out io.Writer, perSecond float64) *ProgressPrinter {
	lim := rate.NewLimiter(rate.Inf, 1)
	if perSecond > 0 {
		lim = rate.NewLimiter(rate.Every(time.Duration(float64(time.Second)/perSecond)), 1)
	}
	return &ProgressPrinter{out: out, limiter: lim}
}

// Stage prints a pipeline-level update.
func (p *ProgressPrinter) Stage(pr task.Progress) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if pr.Message == "" || pr.Message == p.lastStage {
		return
	}
	p.lastStage = pr.Message
	fmt.Fprintf(p.out, "[%d/%d] %s\n", pr.Done, pr.Total, pr.Message)
}

// Item prints a stage-level update.
func (p *ProgressPrinter) Item(pr task.Progress) {
	final := pr.Total > 0 && pr.Done >= pr.Total
	if !final && !p.limiter.Allow() {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if pr.Message == "" {
		fmt.Fprintf(p.out, "  %s %3.0f%%\n", pr.Task, pr.Fraction*100)
		return
	}
	fmt.Fprintf(p.out, "  %s %3.0f%% %s\n", pr.Task, pr.Fraction*100, pr.Message)
}
