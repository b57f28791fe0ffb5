// Package testing moves billing forward in time for local and integration runs.
package testing

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/subhub/internal/jobqueue"
	orderdomain "github.com/smallbiznis/subhub/internal/order/domain"
	"gorm.io/gorm"
)

var ErrOrderNotActive = errors.New("order_not_active")

// TimeAccelerator re-arms order jobs earlier than their due date.
type TimeAccelerator struct {
	db     *gorm.DB
	queue  jobqueue.Scheduler
	orders orderdomain.Repository
}

func NewTimeAccelerator(db *gorm.DB, queue jobqueue.Scheduler, orders orderdomain.Repository) *TimeAccelerator {
	return &TimeAccelerator{db: db, queue: queue, orders: orders}
}

// FastForwardOrder replaces the order's pending job with one that runs at.
// The ledger placeholder keeps its date, so the charge is booked on the
// original due date.
func (ta *TimeAccelerator) FastForwardOrder(ctx context.Context, orderID snowflake.ID, at time.Time) (jobqueue.Handle, error) {
	var (
		armed    jobqueue.Handle
		previous *string
	)
	err := ta.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		order, err := ta.orders.FindByIDForUpdate(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if order == nil || !order.PayStatus {
			return ErrOrderNotActive
		}

		handle, err := ta.queue.Schedule(ctx, at, order.ID)
		if err != nil {
			return err
		}
		armed = handle
		previous = order.JobHandle
		value := handle.String()
		return ta.orders.UpdateSchedule(ctx, tx, order.ID, orderdomain.Schedule{
			PayStatus: true,
			DueDate:   order.DueDate,
			JobHandle: &value,
		}, time.Now().UTC())
	})
	if err != nil {
		if armed != "" {
			_ = ta.queue.Revoke(ctx, armed)
		}
		return "", err
	}
	if previous != nil {
		_ = ta.queue.Revoke(ctx, jobqueue.Handle(*previous))
	}
	return armed, nil
}

// FastForwardAllActive re-arms every active order to run at and returns how
// many were moved.
func (ta *TimeAccelerator) FastForwardAllActive(ctx context.Context, at time.Time) (int, error) {
	var ids []snowflake.ID
	err := ta.db.WithContext(ctx).Raw(
		`SELECT id FROM orders WHERE pay_status = ? ORDER BY id`,
		true,
	).Scan(&ids).Error
	if err != nil {
		return 0, err
	}

	moved := 0
	for _, id := range ids {
		if _, err := ta.FastForwardOrder(ctx, id, at); err != nil {
			if errors.Is(err, ErrOrderNotActive) {
				continue
			}
			return moved, err
		}
		moved++
	}
	return moved, nil
}

// OrderInfo shows an order's billing position for debugging.
type OrderInfo struct {
	ID           snowflake.ID
	State        orderdomain.State
	DueDate      *time.Time
	TimeUntilDue time.Duration
	JobHandle    string
}

func (ta *TimeAccelerator) GetOrderInfo(ctx context.Context, orderID snowflake.ID, now time.Time) (*OrderInfo, error) {
	order, err := ta.orders.FindByID(ctx, ta.db, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, nil
	}

	info := &OrderInfo{
		ID:      order.ID,
		State:   order.State(),
		DueDate: order.DueDate,
	}
	if order.DueDate != nil {
		info.TimeUntilDue = order.DueDate.Sub(now)
	}
	if order.JobHandle != nil {
		info.JobHandle = *order.JobHandle
	}
	return info, nil
}
