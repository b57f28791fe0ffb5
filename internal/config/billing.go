package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// BillingConfig holds the tunables of the billing and settlement schedule.
type BillingConfig struct {
	CashbackDay            int           `mapstructure:"cashbackDay"`
	TestCycleInterval      time.Duration `mapstructure:"testCycleInterval"`
	TestSettlementInterval time.Duration `mapstructure:"testSettlementInterval"`
	DispatchBatchSize      int           `mapstructure:"dispatchBatchSize"`
	DispatchConcurrency    int           `mapstructure:"dispatchConcurrency"`
	ClaimLease             time.Duration `mapstructure:"claimLease"`
	RetryBackoff           time.Duration `mapstructure:"retryBackoff"`
}

func DefaultBillingConfig() BillingConfig {
	return BillingConfig{
		CashbackDay:            25,
		TestCycleInterval:      10 * time.Second,
		TestSettlementInterval: time.Minute,
		DispatchBatchSize:      100,
		DispatchConcurrency:    8,
		ClaimLease:             2 * time.Minute,
		RetryBackoff:           30 * time.Second,
	}
}

type BillingConfigHolder struct {
	current atomic.Value // holds BillingConfig
}

func NewBillingConfigHolder() (*BillingConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("billing")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/subhub/config")
	v.AddConfigPath("/etc/subhub")
	v.AddConfigPath(".")

	v.SetEnvPrefix("SUBHUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultBillingConfig()
	v.SetDefault("billing.cashbackDay", defaults.CashbackDay)
	v.SetDefault("billing.testCycleInterval", defaults.TestCycleInterval)
	v.SetDefault("billing.testSettlementInterval", defaults.TestSettlementInterval)
	v.SetDefault("billing.dispatchBatchSize", defaults.DispatchBatchSize)
	v.SetDefault("billing.dispatchConcurrency", defaults.DispatchConcurrency)
	v.SetDefault("billing.claimLease", defaults.ClaimLease)
	v.SetDefault("billing.retryBackoff", defaults.RetryBackoff)

	configFound := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		configFound = false
	}

	var cfg BillingConfig
	if err := v.UnmarshalKey("billing", &cfg); err != nil {
		return nil, err
	}
	if err := validateBillingConfig(cfg); err != nil {
		return nil, err
	}

	holder := NewStaticBillingConfigHolder(cfg)
	if !configFound {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated BillingConfig
		if err := v.UnmarshalKey("billing", &updated); err != nil {
			log.Printf("[billing-config] reload failed: %v", err)
			return
		}
		if err := validateBillingConfig(updated); err != nil {
			log.Printf("[billing-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[billing-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

// NewStaticBillingConfigHolder returns a holder that never reloads.
func NewStaticBillingConfigHolder(cfg BillingConfig) *BillingConfigHolder {
	holder := &BillingConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func (h *BillingConfigHolder) Get() BillingConfig {
	if h == nil {
		return DefaultBillingConfig()
	}
	return h.current.Load().(BillingConfig)
}

func validateBillingConfig(cfg BillingConfig) error {
	// day 29-31 would skip short months entirely
	if cfg.CashbackDay < 1 || cfg.CashbackDay > 28 {
		return errors.New("billing.cashbackDay must be between 1 and 28")
	}
	if cfg.TestCycleInterval <= 0 {
		return errors.New("billing.testCycleInterval must be positive")
	}
	if cfg.TestSettlementInterval <= 0 {
		return errors.New("billing.testSettlementInterval must be positive")
	}
	if cfg.DispatchBatchSize <= 0 {
		return errors.New("billing.dispatchBatchSize must be positive")
	}
	if cfg.DispatchConcurrency <= 0 {
		return errors.New("billing.dispatchConcurrency must be positive")
	}
	if cfg.ClaimLease <= 0 {
		return errors.New("billing.claimLease must be positive")
	}
	if cfg.RetryBackoff < 0 {
		return errors.New("billing.retryBackoff cannot be negative")
	}
	return nil
}
