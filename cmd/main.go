// Command rubricsync reconciles exported rubric scores with the grading
// platform's gradebook.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/okian/rubricsync/internal/adapters/lms"
	"github.com/okian/rubricsync/internal/backoff"
	"github.com/okian/rubricsync/internal/config"
	"github.com/okian/rubricsync/pkg/logger"
	"github.com/okian/rubricsync/pkg/metrics"
)

func main() {
	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

// cli carries state shared by every command once the root pre-run has
// loaded configuration and logging.
type cli struct {
	configPath string
	cfg        *config.Config
	log        logger.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "rubricsync",
		Short:         "Upload exported rubric scores to the grading platform",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.setup(cmd)
		},
	}
	root.PersistentFlags().StringVar(&c.configPath, "config", "", "YAML config file (overrides "+config.EnvConfig+")")

	root.AddCommand(
		newUploadCmd(c),
		newCoursesCmd(c),
		newValidateCmd(c),
		newJobCmd(c),
	)
	return root
}

func (c *cli) setup(cmd *cobra.Command) error {
	ctx := cmd.Context()
	if c.configPath != "" {
		if err := os.Setenv(config.EnvConfig, c.configPath); err != nil {
			return err
		}
	}

	// Load configuration (defaults -> optional file -> env)
	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	c.cfg = cfg

	if err := logger.Init(logger.WithWriter(cmd.ErrOrStderr()), logger.WithFormat(cfg.LogFormat)); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	c.log = logger.Get()

	metrics.Init(
		metrics.WithMetricsEnabled(cfg.MetricsEnabled),
		metrics.WithNamespace(cfg.MetricsNamespace),
		metrics.WithRefreshInterval(cfg.MetricsRefresh()),
		metrics.WithCustomLabels(cfg.MetricsLabels),
		metrics.WithHistogramBuckets(cfg.MetricsBuckets),
	)

	// Apply configured log level (fallback to info on invalid input)
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		c.log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}
	return nil
}

// client builds a platform client configured with the loaded credential.
func (c *cli) client() (*lms.Client, error) {
	if err := c.cfg.RequireCredential(); err != nil {
		return nil, err
	}
	client := lms.New(
		lms.WithHTTPClient(&http.Client{Timeout: c.cfg.RequestTimeout()}),
		lms.WithPerPage(c.cfg.PerPage),
		lms.WithPollInterval(c.cfg.PollInterval()),
		lms.WithBackoffOptions(
			backoff.WithMaxRetries(c.cfg.MaxRetries),
			backoff.WithBaseDelay(c.cfg.BaseDelay()),
			backoff.WithGrowth(c.cfg.Growth),
		),
		lms.WithLogger(c.log.Named("lms")),
	)
	client.Configure(c.cfg.BaseURL, c.cfg.AccessToken)
	return client, nil
}

// startSystemMetricsUpdater updates system metrics until ctx ends.
func startSystemMetricsUpdater(ctx context.Context) error {
	ticker := time.NewTicker(metrics.RefreshInterval())
	defer ticker.Stop()

	updateSystemMetrics()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			updateSystemMetrics()
		}
	}
}

// updateSystemMetrics updates system-level metrics.
func updateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	metrics.UpdateSystemMemoryUsage(m.Alloc)
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())
}
