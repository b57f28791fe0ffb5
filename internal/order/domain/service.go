package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type CreateOrderRequest struct {
	UserID         snowflake.ID
	SubscriptionID snowflake.ID
	TariffID       snowflake.ID
	Contact        ContactInfo
}

type ChangeTariffRequest struct {
	UserID   snowflake.ID
	OrderID  snowflake.ID
	TariffID snowflake.ID
}

// Service is the order lifecycle controller. Every call is scoped to the
// user that owns the order.
type Service interface {
	Create(context.Context, CreateOrderRequest) (Order, error)
	Cancel(ctx context.Context, userID, orderID snowflake.ID) (Order, error)
	Resume(ctx context.Context, userID, orderID snowflake.ID) (Order, error)
	ChangeTariff(context.Context, ChangeTariffRequest) (Order, error)
	Get(ctx context.Context, userID, orderID snowflake.ID) (Order, error)
	List(ctx context.Context, userID snowflake.ID) ([]Order, error)
}

var (
	ErrOrderNotFound    = errors.New("order_not_found")
	ErrOrderExists      = errors.New("order_already_exists")
	ErrTariffMismatch   = errors.New("tariff_mismatch")
	ErrAlreadyCancelled = errors.New("order_already_cancelled")
	ErrAlreadyActive    = errors.New("order_already_active")
	ErrNotActive        = errors.New("order_not_active")
	ErrInvalidContact   = errors.New("invalid_contact")
)
