package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestValidateBillingConfig(t *testing.T) {
	t.Run("defaults are valid", func(t *testing.T) {
		assert.NoError(t, validateBillingConfig(DefaultBillingConfig()))
	})

	t.Run("cashback day outside month range", func(t *testing.T) {
		cfg := DefaultBillingConfig()
		cfg.CashbackDay = 31
		assert.Error(t, validateBillingConfig(cfg))
		cfg.CashbackDay = 0
		assert.Error(t, validateBillingConfig(cfg))
	})

	t.Run("non positive intervals", func(t *testing.T) {
		cfg := DefaultBillingConfig()
		cfg.TestCycleInterval = 0
		assert.Error(t, validateBillingConfig(cfg))

		cfg = DefaultBillingConfig()
		cfg.ClaimLease = -time.Second
		assert.Error(t, validateBillingConfig(cfg))
	})
}

func TestBillingConfigHolder_Get(t *testing.T) {
	cfg := DefaultBillingConfig()
	cfg.CashbackDay = 10
	holder := NewStaticBillingConfigHolder(cfg)
	assert.Equal(t, 10, holder.Get().CashbackDay)

	var nilHolder *BillingConfigHolder
	assert.Equal(t, 25, nilHolder.Get().CashbackDay)
}
