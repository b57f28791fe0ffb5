package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/subhub/internal/pricing"
)

type CreateSubscriptionRequest struct {
	Name            string
	Title           string
	Description     string
	CashbackPercent int
	PopularRate     int
}

type CreateTariffRequest struct {
	SubscriptionID  snowflake.ID
	Period          pricing.Period
	BasePrice       int64
	DiscountPercent int
}

type UpdateTariffRequest struct {
	ID              snowflake.ID
	Period          *pricing.Period
	BasePrice       *int64
	DiscountPercent *int
}

type Service interface {
	CreateSubscription(context.Context, CreateSubscriptionRequest) (Subscription, error)
	GetSubscription(context.Context, snowflake.ID) (Subscription, error)
	ListSubscriptions(context.Context) ([]Subscription, error)

	CreateTariff(context.Context, CreateTariffRequest) (Tariff, error)
	UpdateTariff(context.Context, UpdateTariffRequest) (Tariff, error)
	GetTariff(context.Context, snowflake.ID) (Tariff, error)
	ListTariffs(ctx context.Context, subscriptionID snowflake.ID) ([]Tariff, error)
}

var (
	ErrInvalidName          = errors.New("invalid_name")
	ErrSubscriptionNotFound = errors.New("subscription_not_found")
	ErrTariffNotFound       = errors.New("tariff_not_found")
	ErrSlugTaken            = errors.New("slug_taken")
)
