package scheduler

import (
	"time"

	"github.com/smallbiznis/scanledger/internal/config"
)

// Config controls housekeeping intervals and batch sizes.
type Config struct {
	Enabled        bool
	RunInterval    time.Duration
	ResetRetention time.Duration
	TempFileAge    time.Duration
	BatchSize      int
	JobTimeout     time.Duration
}

func DefaultConfig() Config {
	return Config{
		Enabled:        true,
		RunInterval:    10 * time.Minute,
		ResetRetention: 24 * time.Hour,
		TempFileAge:    time.Hour,
		BatchSize:      500,
		JobTimeout:     30 * time.Second,
	}
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		Enabled:        cfg.Scheduler.Enabled,
		RunInterval:    cfg.Scheduler.RunInterval,
		ResetRetention: cfg.Scheduler.ResetRetention,
		TempFileAge:    cfg.Scheduler.TempFileAge,
		BatchSize:      cfg.Scheduler.BatchSize,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.ResetRetention <= 0 {
		c.ResetRetention = defaults.ResetRetention
	}
	if c.TempFileAge <= 0 {
		c.TempFileAge = defaults.TempFileAge
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	return c
}
