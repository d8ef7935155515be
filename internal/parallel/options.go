package parallel

import (
	"time"

	"github.com/okian/rubricsync/pkg/logger"
)

// Option applies a configuration option to the Controller.
type Option func(*settings)

type settings struct {
	name         string
	pollInterval time.Duration
	logger       logger.Logger
}

// WithName labels the controller in logs.
func WithName(name string) Option {
	return func(s *settings) {
		if name != "" {
			s.name = name
		}
	}
}

// WithPollInterval sets how long the controller waits before re-checking
// admission when nothing is running.
func WithPollInterval(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// WithLogger sets a custom logger for the controller.
func WithLogger(l logger.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.logger = l
		}
	}
}
