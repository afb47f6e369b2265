package scheduler

import (
	"time"
)

// Config controls the aggregation job cadence and time limits.
type Config struct {
	// CronSpec is the robfig/cron expression driving full runs.
	CronSpec string

	// JobTimeout bounds one full aggregation pass across all windows.
	JobTimeout time.Duration

	// RunOnStart triggers one aggregation pass immediately at boot so a
	// fresh deployment serves snapshots without waiting for the cron.
	RunOnStart bool
}

func DefaultConfig() Config {
	return Config{
		CronSpec:   "0 */6 * * *",
		JobTimeout: 30 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.CronSpec == "" {
		c.CronSpec = defaults.CronSpec
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	return c
}
