package config_test

import (
	"errors"
	"testing"
	"time"

	"github.com/okian/rubricsync/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfig_New(t *testing.T) {
	convey.Convey("Given a new config with default options", t, func() {
		cfg := config.New()

		convey.Convey("Then it should have sensible defaults", func() {
			convey.So(cfg.LogLevel, convey.ShouldEqual, "info")
			convey.So(cfg.PerPage, convey.ShouldEqual, 100)
			convey.So(cfg.MaxRetries, convey.ShouldEqual, 3)
			convey.So(cfg.BaseDelay(), convey.ShouldEqual, time.Second)
			convey.So(cfg.Growth, convey.ShouldEqual, 2.0)
			convey.So(cfg.QuotaFloor, convey.ShouldEqual, 150.0)
			convey.So(cfg.MaxInFlight, convey.ShouldEqual, 10)
			convey.So(cfg.UploadAttempts, convey.ShouldEqual, 3)
			convey.So(cfg.PollInterval(), convey.ShouldEqual, 5*time.Second)
			convey.So(cfg.RequestTimeout(), convey.ShouldEqual, 30*time.Second)
			convey.So(cfg.MetricsAddr, convey.ShouldBeEmpty)
			convey.So(cfg.MetricsEnabled, convey.ShouldBeTrue)
			convey.So(cfg.MetricsNamespace, convey.ShouldEqual, "rubricsync")
			convey.So(cfg.MetricsRefresh(), convey.ShouldEqual, 10*time.Second)
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})
	})
}

func TestConfig_Validate(t *testing.T) {
	convey.Convey("Given configs with invalid fields", t, func() {
		cases := map[string]func(*config.Config){
			"per_page":           func(c *config.Config) { c.PerPage = 101 },
			"max_retries":        func(c *config.Config) { c.MaxRetries = -1 },
			"growth":             func(c *config.Config) { c.Growth = 0.5 },
			"quota_floor":        func(c *config.Config) { c.QuotaFloor = -1 },
			"max_in_flight":      func(c *config.Config) { c.MaxInFlight = 0 },
			"poll_interval_ms":   func(c *config.Config) { c.PollIntervalMS = 0 },
			"request_timeout_ms": func(c *config.Config) { c.RequestTimeoutMS = 0 },
			"log_format":         func(c *config.Config) { c.LogFormat = "xml" },
			"base_url":           func(c *config.Config) { c.BaseURL = "canvas.example.edu" },
			"metrics_refresh_ms": func(c *config.Config) { c.MetricsRefreshMS = 0 },
			"metrics_namespace":  func(c *config.Config) { c.MetricsNamespace = "9grades" },
		}
		for field, mutate := range cases {
			cfg := config.New()
			mutate(cfg)
			err := cfg.Validate()
			convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			convey.So(err.Error(), convey.ShouldContainSubstring, field)
		}
	})

	convey.Convey("Given a config without a credential", t, func() {
		cfg := config.New()

		convey.Convey("Then the credential check names the missing field", func() {
			convey.So(cfg.RequireCredential().Error(), convey.ShouldContainSubstring, "base_url")
			cfg.BaseURL = "https://canvas.example.edu"
			convey.So(cfg.RequireCredential().Error(), convey.ShouldContainSubstring, "access_token")
			cfg.AccessToken = "secret"
			convey.So(cfg.RequireCredential(), convey.ShouldBeNil)
		})
	})
}
