package scheduler

import (
	"time"

	"github.com/smallbiznis/subhub/internal/config"
)

// Config controls scheduler intervals and timeouts. Batch sizes and the claim
// lease live in the hot-reloaded billing config.
type Config struct {
	RunInterval       time.Duration
	JobTimeout        time.Duration
	ReconcileGrace    time.Duration
	ReconcileBatch    int
	SettlementCatchUp time.Duration
	SettlementLockTTL time.Duration
	EnabledJobs       []string
}

func DefaultConfig() Config {
	return Config{
		RunInterval:       5 * time.Second,
		JobTimeout:        30 * time.Second,
		ReconcileGrace:    10 * time.Minute,
		ReconcileBatch:    200,
		SettlementCatchUp: 72 * time.Hour,
		SettlementLockTTL: 30 * time.Minute,
	}
}

// ProvideConfig tightens the loop in billing test mode so second-scale
// cycles are delivered on time.
func ProvideConfig(cfg config.Config) Config {
	out := DefaultConfig()
	if cfg.BillingTestMode {
		out.RunInterval = time.Second
		out.ReconcileGrace = 30 * time.Second
	}
	return out
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.ReconcileGrace <= 0 {
		c.ReconcileGrace = defaults.ReconcileGrace
	}
	if c.ReconcileBatch <= 0 {
		c.ReconcileBatch = defaults.ReconcileBatch
	}
	if c.SettlementCatchUp <= 0 {
		c.SettlementCatchUp = defaults.SettlementCatchUp
	}
	if c.SettlementLockTTL <= 0 {
		c.SettlementLockTTL = defaults.SettlementLockTTL
	}
	return c
}
