package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/okian/rubricsync/internal/adapters/console"
	"github.com/okian/rubricsync/internal/adapters/http/ops"
	"github.com/okian/rubricsync/internal/adapters/lms"
	service "github.com/okian/rubricsync/internal/app"
	"github.com/okian/rubricsync/internal/domain/model"
	"github.com/okian/rubricsync/internal/extract"
	"github.com/okian/rubricsync/internal/task"
	"github.com/okian/rubricsync/pkg/logger"
)

const progressLinesPerSecond = 2

var errRunFailed = errors.New("reconciliation failed")

type uploadFlags struct {
	course string
	file   string
	format string
	label  string
	sheet  string
	yes    bool
	report string
}

func newUploadCmd(c *cli) *cobra.Command {
	var f uploadFlags
	cmd := &cobra.Command{
		Use:   "upload",
		Short: "Match an export against the course and upload rubric scores",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.upload(cmd, f)
		},
	}
	cmd.Flags().StringVar(&f.course, "course", "", "course id")
	cmd.Flags().StringVar(&f.file, "file", "", "exported score file (csv, zip or xlsx)")
	cmd.Flags().StringVar(&f.format, "format", extract.FormatGradescope, "export format")
	cmd.Flags().StringVar(&f.label, "label", "", "grading target the file belongs to (rubric item)")
	cmd.Flags().StringVar(&f.sheet, "sheet", "", "worksheet to read for the stemble format (default: first)")
	cmd.Flags().BoolVar(&f.yes, "yes", false, "skip unmatched records without asking")
	cmd.Flags().StringVar(&f.report, "report", "", "write the YAML outcome report to this path")
	_ = cmd.MarkFlagRequired("course")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func (c *cli) upload(cmd *cobra.Command, f uploadFlags) error {
	ctx := cmd.Context()
	extractor, err := extract.Lookup(f.format)
	if err != nil {
		return err
	}
	if f.sheet != "" {
		if !strings.EqualFold(strings.TrimSpace(f.format), extract.FormatStemble) {
			return fmt.Errorf("--sheet only applies to the %s format", extract.FormatStemble)
		}
		extractor = extract.StembleSheet(f.sheet)
	}
	client, err := c.client()
	if err != nil {
		return err
	}

	confirm := make(chan task.ConfirmationRequest)
	svc := service.New(client,
		service.WithBudget(client.Quota()),
		service.WithConfirmations(confirm),
		service.WithQuotaFloor(c.cfg.QuotaFloor),
		service.WithMaxInFlight(c.cfg.MaxInFlight),
		service.WithUploadAttempts(c.cfg.UploadAttempts),
		service.WithPollInterval(c.cfg.PollInterval()),
		service.WithLogger(c.log),
	)
	printer := console.NewProgressPrinter(cmd.OutOrStdout(), progressLinesPerSecond)
	defer svc.SubscribeStage(printer.Stage)()
	defer svc.SubscribeItem(printer.Item)()
	prompter := console.NewPrompter(cmd.InOrStdin(), cmd.OutOrStdout(),
		console.WithAssumeYes(f.yes),
		console.WithLogger(c.log.Named("console")),
	)

	g, gctx := errgroup.WithContext(ctx)
	runCtx, stop := context.WithCancel(gctx)
	defer stop()

	var out model.Outcome
	g.Go(func() error {
		defer stop()
		out = svc.Run(gctx, service.Request{CourseID: f.course, File: f.file, Label: f.label, Extract: extractor})
		return nil
	})
	g.Go(func() error {
		return prompter.Run(runCtx, confirm)
	})
	if c.cfg.MetricsAddr != "" {
		g.Go(func() error {
			return ops.NewServer(c.cfg.MetricsAddr, svc, ops.WithLogger(c.log.Named("ops"))).Run(runCtx)
		})
		g.Go(func() error {
			return startSystemMetricsUpdater(runCtx)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if f.report != "" {
		if err := console.WriteReportFile(f.report, out); err != nil {
			return err
		}
		c.log.Info(ctx, "report written", logger.String("path", f.report))
	}
	fmt.Fprintln(cmd.OutOrStdout(), console.Summary(out))
	if out.Status == model.StatusErrored {
		return fmt.Errorf("%w: %s", errRunFailed, out.Error)
	}
	return nil
}

func newCoursesCmd(c *cli) *cobra.Command {
	var enrollment string
	cmd := &cobra.Command{
		Use:   "courses",
		Short: "List courses the credential can grade",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := c.client()
			if err != nil {
				return err
			}
			cur, err := client.ListCourses(cmd.Context(), enrollment)
			if err != nil {
				return err
			}
			courses, err := cur.Collect(cmd.Context())
			if err != nil {
				return err
			}
			return console.WriteCourses(cmd.OutOrStdout(), courses)
		},
	}
	cmd.Flags().StringVar(&enrollment, "enrollment", lms.EnrollmentTeacher, "enrollment type (teacher or ta)")
	return cmd
}

func newValidateCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configured credential against the platform",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := c.client()
			if err != nil {
				return err
			}
			if err := client.ValidateCredential(cmd.Context(), c.cfg.BaseURL, c.cfg.AccessToken); err != nil {
				return fmt.Errorf("credential rejected: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "credential ok")
			return nil
		},
	}
}

func newJobCmd(c *cli) *cobra.Command {
	job := &cobra.Command{
		Use:   "job",
		Short: "Submit or inspect asynchronous batch grade jobs",
	}

	var course, updatesPath string
	var timeout time.Duration
	submit := &cobra.Command{
		Use:   "submit",
		Short: "Submit a YAML list of grade updates as one batch job and follow it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			updates, err := readUpdates(updatesPath)
			if err != nil {
				return err
			}
			client, err := c.client()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			j, err := client.SubmitBatchGrades(ctx, course, updates)
			if err != nil {
				return err
			}
			defer j.Subscribe(func(p model.JobProgress) {
				_ = console.WriteJobProgress(cmd.OutOrStdout(), p)
			})()
			p, err := j.Wait(ctx)
			if err != nil {
				j.Cancel()
				return err
			}
			if p.WorkflowState == model.JobFailed {
				return fmt.Errorf("job %s failed: %s", p.ID, p.Message)
			}
			return nil
		},
	}
	submit.Flags().StringVar(&course, "course", "", "course id")
	submit.Flags().StringVar(&updatesPath, "updates", "", "YAML file with user_id, assignment_id and rubric_assessment entries")
	submit.Flags().DurationVar(&timeout, "timeout", 0, "stop following the job after this long (0 = no limit)")
	_ = submit.MarkFlagRequired("course")
	_ = submit.MarkFlagRequired("updates")

	status := &cobra.Command{
		Use:   "status <progress-id>",
		Short: "Print the progress of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := c.client()
			if err != nil {
				return err
			}
			p, err := client.GetProgress(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return console.WriteJobProgress(cmd.OutOrStdout(), p)
		},
	}

	job.AddCommand(submit, status)
	return job
}

func readUpdates(path string) ([]model.GradeUpdate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var updates []model.GradeUpdate
	if err := yaml.Unmarshal(data, &updates); err != nil {
		return nil, fmt.Errorf("parsing updates: %w", err)
	}
	return updates, nil
}
