package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	InsertSubscription(ctx context.Context, db *gorm.DB, subscription *Subscription) error
	FindSubscriptionByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Subscription, error)
	ListSubscriptions(ctx context.Context, db *gorm.DB) ([]Subscription, error)

	InsertTariff(ctx context.Context, db *gorm.DB, tariff *Tariff) error
	UpdateTariff(ctx context.Context, db *gorm.DB, tariff *Tariff) error
	FindTariffByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Tariff, error)
	ListTariffs(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID) ([]Tariff, error)
}
