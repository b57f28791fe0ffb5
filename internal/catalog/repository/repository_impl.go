package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	catalogdomain "github.com/smallbiznis/subhub/internal/catalog/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() catalogdomain.Repository {
	return &repo{}
}

func (r *repo) InsertSubscription(ctx context.Context, db *gorm.DB, subscription *catalogdomain.Subscription) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO subscriptions (
			id, name, slug, title, description, cashback_percent, popular_rate, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		subscription.ID,
		subscription.Name,
		subscription.Slug,
		subscription.Title,
		subscription.Description,
		subscription.CashbackPercent,
		subscription.PopularRate,
		subscription.CreatedAt,
		subscription.UpdatedAt,
	).Error
}

func (r *repo) FindSubscriptionByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*catalogdomain.Subscription, error) {
	var subscription catalogdomain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT id, name, slug, title, description, cashback_percent, popular_rate, created_at, updated_at
		 FROM subscriptions WHERE id = ?`,
		id,
	).Scan(&subscription).Error
	if err != nil {
		return nil, err
	}
	if subscription.ID == 0 {
		return nil, nil
	}
	return &subscription, nil
}

func (r *repo) ListSubscriptions(ctx context.Context, db *gorm.DB) ([]catalogdomain.Subscription, error) {
	var subscriptions []catalogdomain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT id, name, slug, title, description, cashback_percent, popular_rate, created_at, updated_at
		 FROM subscriptions ORDER BY popular_rate DESC, id ASC`,
	).Scan(&subscriptions).Error
	if err != nil {
		return nil, err
	}
	return subscriptions, nil
}

func (r *repo) InsertTariff(ctx context.Context, db *gorm.DB, tariff *catalogdomain.Tariff) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO tariffs (
			id, subscription_id, period, period_slug, base_price, discount_percent,
			price_per_month, price_per_period, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tariff.ID,
		tariff.SubscriptionID,
		tariff.Period,
		tariff.PeriodSlug,
		tariff.BasePrice,
		tariff.DiscountPercent,
		tariff.PricePerMonth,
		tariff.PricePerPeriod,
		tariff.CreatedAt,
		tariff.UpdatedAt,
	).Error
}

func (r *repo) UpdateTariff(ctx context.Context, db *gorm.DB, tariff *catalogdomain.Tariff) error {
	return db.WithContext(ctx).Exec(
		`UPDATE tariffs
		 SET period = ?, period_slug = ?, base_price = ?, discount_percent = ?,
		     price_per_month = ?, price_per_period = ?, updated_at = ?
		 WHERE id = ?`,
		tariff.Period,
		tariff.PeriodSlug,
		tariff.BasePrice,
		tariff.DiscountPercent,
		tariff.PricePerMonth,
		tariff.PricePerPeriod,
		tariff.UpdatedAt,
		tariff.ID,
	).Error
}

func (r *repo) FindTariffByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*catalogdomain.Tariff, error) {
	var tariff catalogdomain.Tariff
	err := db.WithContext(ctx).Raw(
		`SELECT id, subscription_id, period, period_slug, base_price, discount_percent,
		 price_per_month, price_per_period, created_at, updated_at
		 FROM tariffs WHERE id = ?`,
		id,
	).Scan(&tariff).Error
	if err != nil {
		return nil, err
	}
	if tariff.ID == 0 {
		return nil, nil
	}
	return &tariff, nil
}

func (r *repo) ListTariffs(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID) ([]catalogdomain.Tariff, error) {
	var tariffs []catalogdomain.Tariff
	err := db.WithContext(ctx).Raw(
		`SELECT id, subscription_id, period, period_slug, base_price, discount_percent,
		 price_per_month, price_per_period, created_at, updated_at
		 FROM tariffs WHERE subscription_id = ? ORDER BY period ASC`,
		subscriptionID,
	).Scan(&tariffs).Error
	if err != nil {
		return nil, err
	}
	return tariffs, nil
}
