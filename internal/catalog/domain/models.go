package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/subhub/internal/pricing"
)

// Subscription is a subscribable service in the catalog.
type Subscription struct {
	ID              snowflake.ID `gorm:"primaryKey" json:"id"`
	Name            string       `gorm:"not null" json:"name"`
	Slug            string       `gorm:"not null;uniqueIndex" json:"slug"`
	Title           string       `json:"title"`
	Description     string       `json:"description"`
	CashbackPercent int          `gorm:"not null;default:0" json:"cashback_percent"`
	PopularRate     int          `gorm:"not null;default:0" json:"popular_rate"`
	CreatedAt       time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt       time.Time    `gorm:"not null" json:"updated_at"`
}

func (Subscription) TableName() string { return "subscriptions" }

// Tariff prices a subscription for one billing period. PricePerMonth and
// PricePerPeriod are written together with the inputs they derive from.
type Tariff struct {
	ID              snowflake.ID   `gorm:"primaryKey" json:"id"`
	SubscriptionID  snowflake.ID   `gorm:"not null;index" json:"subscription_id"`
	Period          pricing.Period `gorm:"not null" json:"period"`
	PeriodSlug      string         `gorm:"not null" json:"period_slug"`
	BasePrice       int64          `gorm:"not null" json:"base_price"`
	DiscountPercent int            `gorm:"not null;default:0" json:"discount_percent"`
	PricePerMonth   int64          `gorm:"not null" json:"price_per_month"`
	PricePerPeriod  int64          `gorm:"not null" json:"price_per_period"`
	CreatedAt       time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt       time.Time      `gorm:"not null" json:"updated_at"`
}

func (Tariff) TableName() string { return "tariffs" }

// ApplyPrices recomputes the derived columns from the tariff inputs.
func (t *Tariff) ApplyPrices() error {
	prices, err := pricing.Derive(t.BasePrice, t.DiscountPercent, t.Period)
	if err != nil {
		return err
	}
	t.PricePerMonth = prices.PricePerMonth
	t.PricePerPeriod = prices.PricePerPeriod
	t.PeriodSlug = t.Period.Slug()
	return nil
}
