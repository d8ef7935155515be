// Package console is the terminal boundary of the pipeline: it answers
// confirmation checkpoints, prints progress and writes the final report.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/okian/rubricsync/internal/domain/model"
	"github.com/okian/rubricsync/internal/task"
	"github.com/okian/rubricsync/pkg/logger"
)

const defaultPreviewLimit = 20

// Prompter answers confirmation requests from a terminal.
type Prompter struct {
	in           io.Reader
	out          io.Writer
	assumeYes    bool
	previewLimit int
	logger       logger.Logger

	lines chan string
}

// Option applies a configuration option to the Prompter.
type Option func(*Prompter)

// WithAssumeYes accepts every request without reading input.
func WithAssumeYes(yes bool) Option {
	return func(p *Prompter) {
		p.assumeYes = yes
	}
}

// WithPreviewLimit caps how many skipped records are printed per request.
func WithPreviewLimit(n int) Option {
	return func(p *Prompter) {
		if n > 0 {
			p.previewLimit = n
		}
	}
}

// WithLogger sets a custom logger for the prompter.
func WithLogger(l logger.Logger) Option {
	return func(p *Prompter) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewPrompter reads answers from in and writes prompts to out.
func NewPrompter(in io.Reader, out io.Writer, opts ...Option) *Prompter {
	p := &Prompter{
		in:           in,
		out:          out,
		previewLimit: defaultPreviewLimit,
		logger:       logger.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run answers requests until reqs is closed or ctx ends.
func (p *Prompter) Run(ctx context.Context, reqs <-chan task.ConfirmationRequest) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case req, ok := <-reqs:
			if !ok {
				return nil
			}
			answer, err := p.Ask(ctx, req)
			if err != nil {
				req.Result <- false
				return nil
			}
			req.Result <- answer
		}
	}
}

// Ask renders req and returns the operator's decision. End of input counts
// as a rejection.
func (p *Prompter) Ask(ctx context.Context, req task.ConfirmationRequest) (bool, error) {
	fmt.Fprintf(p.out, "\n%s\n", req.Description)
	if err := p.preview(req.Skipped); err != nil {
		return false, err
	}
	if p.assumeYes {
		fmt.Fprintln(p.out, "Proceeding (--yes).")
		p.logger.Info(ctx, "confirmation accepted automatically",
			logger.String("task", req.Task),
			logger.Int("skipped", len(req.Skipped)),
		)
		return true, nil
	}

	for {
		fmt.Fprint(p.out, "Proceed? [y/N]: ")
		line, ok, err := p.readLine(ctx)
		if err != nil {
			return false, err
		}
		if !ok {
			fmt.Fprintln(p.out)
			return false, nil
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return true, nil
		case "", "n", "no":
			return false, nil
		default:
			fmt.Fprintln(p.out, "Please enter y or n.")
		}
	}
}

func (p *Prompter) preview(skipped []model.SkippedRecord) error {
	if len(skipped) == 0 {
		return nil
	}
	shown := skipped
	if len(shown) > p.previewLimit {
		shown = shown[:p.previewLimit]
	}
	data, err := yaml.Marshal(shown)
	if err != nil {
		return fmt.Errorf("rendering skipped records: %w", err)
	}
	if _, err := p.out.Write(data); err != nil {
		return err
	}
	if rest := len(skipped) - len(shown); rest > 0 {
		fmt.Fprintf(p.out, "... and %d more\n", rest)
	}
	return nil
}

// readLine waits for the next input line. The reader goroutine is started
// on first use and outlives a cancelled read.
func (p *Prompter) readLine(ctx context.Context) (string, bool, error) {
	if p.lines == nil {
		p.lines = make(chan string)
		go func() {
			defer close(p.lines)
			sc := bufio.NewScanner(p.in)
			for sc.Scan() {
				p.lines <- sc.Text()
			}
		}()
	}
	select {
	case <-ctx.Done():
		return "", false, ctx.Err()
	case line, ok := <-p.lines:
		return line, ok, nil
	}
}
