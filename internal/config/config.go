// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds configuration for the neurosched server.
type Config struct {
	Port      string `env:"PORT" envDefault:"8080"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"console"`

	Scheduler SchedulerConfig
	History   HistoryConfig
	Email     EmailConfig

	// ReportDir is where report work items write their CSV files.
	ReportDir       string        `env:"REPORT_DIR" envDefault:"./reports"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

type SchedulerConfig struct {
	Algorithm        string        `env:"SCHEDULER_ALGORITHM" envDefault:"priority"`
	TimeQuantum      int           `env:"ROUND_ROBIN_QUANTUM" envDefault:"10"`
	DispatchInterval time.Duration `env:"DISPATCH_INTERVAL" envDefault:"1ms"`
	MetricsInterval  time.Duration `env:"METRICS_INTERVAL" envDefault:"10s"`
}

// HistoryConfig selects the optional sinks for finished tasks. Empty values
// disable the sink.
type HistoryConfig struct {
	RedisAddr         string        `env:"REDIS_ADDR"`
	PostgresDSN       string        `env:"POSTGRES_DSN"`
	RecordTimeout     time.Duration `env:"RECORD_TIMEOUT" envDefault:"5s"`
	ArchiveMaxRecords int64         `env:"ARCHIVE_MAX_RECORDS" envDefault:"10000"`
}

type EmailConfig struct {
	APIKey      string `env:"EMAIL_API_KEY"`
	FromName    string `env:"FROM_NAME" envDefault:"neurosched"`
	FromAddress string `env:"FROM_ADDRESS"`
}

func Load() (Config, error) {
	return LoadWithEnvironment(nil)
}

// LoadWithEnvironment parses from the given variables instead of the process
// environment when environ is non-nil.
func LoadWithEnvironment(environ map[string]string) (Config, error) {
	var cfg Config

	opts := env.Options{}
	if environ != nil {
		opts.Environment = environ
	}

	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("failed to parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT must not be empty")
	}
	if c.Scheduler.TimeQuantum <= 0 {
		return fmt.Errorf("ROUND_ROBIN_QUANTUM must be positive, got %d", c.Scheduler.TimeQuantum)
	}
	if c.Scheduler.DispatchInterval < 0 {
		return fmt.Errorf("DISPATCH_INTERVAL must not be negative, got %s", c.Scheduler.DispatchInterval)
	}
	if c.History.ArchiveMaxRecords < 0 {
		return fmt.Errorf("ARCHIVE_MAX_RECORDS must not be negative, got %d", c.History.ArchiveMaxRecords)
	}

	return nil
}

func (c Config) Addr() string {
	return ":" + c.Port
}
