package guard

import (
	"errors"

	"github.com/bwmarrin/snowflake"
	catalogdomain "github.com/smallbiznis/subhub/internal/catalog/domain"
	orderdomain "github.com/smallbiznis/subhub/internal/order/domain"
)

var (
	ErrOrderInactive  = errors.New("order_inactive")
	ErrHandleMismatch = errors.New("job_handle_mismatch")
	ErrMissingDueDate = errors.New("order_missing_due_date")
)

// EnsureOrderCanFire accepts only the delivery the order is waiting on.
func EnsureOrderCanFire(order *orderdomain.Order, handle string) error {
	if !order.PayStatus {
		return ErrOrderInactive
	}
	if !order.HandleMatches(handle) {
		return ErrHandleMismatch
	}
	if order.DueDate == nil {
		return ErrMissingDueDate
	}
	return nil
}

func EnsureOrderCanCancel(order *orderdomain.Order) error {
	if !order.PayStatus {
		return orderdomain.ErrAlreadyCancelled
	}
	return nil
}

func EnsureOrderCanResume(order *orderdomain.Order) error {
	if order.PayStatus {
		return orderdomain.ErrAlreadyActive
	}
	return nil
}

func EnsureOrderCanChangeTariff(order *orderdomain.Order) error {
	if !order.PayStatus {
		return orderdomain.ErrNotActive
	}
	return nil
}

// EnsureTariffBelongs rejects a tariff of another subscription.
func EnsureTariffBelongs(tariff *catalogdomain.Tariff, subscriptionID snowflake.ID) error {
	if tariff == nil {
		return catalogdomain.ErrTariffNotFound
	}
	if tariff.SubscriptionID != subscriptionID {
		return orderdomain.ErrTariffMismatch
	}
	return nil
}
