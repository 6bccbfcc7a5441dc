package scheduler

import (
	"time"

	"github.com/smallbiznis/billingledger/internal/config"
)

const (
	JobRecurringInvoices = "recurring_invoices"
	JobPastDue           = "past_due"
	JobOutboxDispatch    = "outbox_dispatch"

	runLockKey = "billingledger:scheduler:run"
)

// Config controls scheduler intervals and batch sizes.
type Config struct {
	Enabled       bool
	RunInterval   time.Duration
	BatchSize     int
	Workers       int
	LeaseTTL      time.Duration
	JobTimeout    time.Duration
	RunLockTTL    time.Duration
	OutboxEnabled bool
	// EnabledJobs restricts RunOnce to the named jobs. Empty runs all of them.
	EnabledJobs []string
}

func DefaultConfig() Config {
	return Config{
		Enabled:       true,
		RunInterval:   time.Minute,
		BatchSize:     50,
		Workers:       4,
		LeaseTTL:      5 * time.Minute,
		JobTimeout:    2 * time.Minute,
		RunLockTTL:    2 * time.Minute,
		OutboxEnabled: true,
	}
}

// ProvideConfig maps the environment settings onto the scheduler config.
func ProvideConfig(cfg config.Config) Config {
	sc := cfg.Scheduler
	return Config{
		Enabled:       sc.Enabled,
		RunInterval:   sc.RunInterval,
		BatchSize:     sc.BatchSize,
		Workers:       sc.Workers,
		LeaseTTL:      sc.LeaseTTL,
		JobTimeout:    sc.JobTimeout,
		RunLockTTL:    sc.RunLockTTL,
		OutboxEnabled: sc.OutboxEnabled,
	}.withDefaults()
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.Workers <= 0 {
		c.Workers = defaults.Workers
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = defaults.LeaseTTL
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.RunLockTTL <= 0 {
		c.RunLockTTL = defaults.RunLockTTL
	}
	return c
}
