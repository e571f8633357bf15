package scheduler

import (
	"time"

	"github.com/EF-corp/AgroBotTg/internal/config"
)

// Config controls sweep intervals and batch sizes.
type Config struct {
	RunInterval       time.Duration
	BatchSize         int
	JobTimeout        time.Duration
	RecoveryThreshold time.Duration
	LockTTL           time.Duration
}

func DefaultConfig() Config {
	return Config{
		RunInterval:       time.Minute,
		BatchSize:         50,
		JobTimeout:        30 * time.Second,
		RecoveryThreshold: time.Hour + 15*time.Minute,
		LockTTL:           55 * time.Second,
	}
}

// ProvideConfig derives the recovery threshold from the poll budget so a
// live poller always times out before its row is swept.
func ProvideConfig(cfg config.Config) Config {
	c := DefaultConfig()
	if cfg.Payment.PollBudget > 0 {
		c.RecoveryThreshold = cfg.Payment.PollBudget + cfg.Payment.SweepGrace
	}
	return c.withDefaults()
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.RecoveryThreshold <= 0 {
		c.RecoveryThreshold = defaults.RecoveryThreshold
	}
	if c.LockTTL <= 0 {
		c.LockTTL = defaults.LockTTL
	}
	return c
}
