package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	orderdomain "github.com/smallbiznis/subhub/internal/order/domain"
	"github.com/smallbiznis/subhub/pkg/db"
	"gorm.io/gorm"
)

const orderColumns = `id, user_id, subscription_id, tariff_id, contact_name, contact_phone, contact_email,
	due_date, pay_status, job_handle, created_at, updated_at`

type repo struct{}

func Provide() orderdomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, conn *gorm.DB, order *orderdomain.Order) error {
	return conn.WithContext(ctx).Exec(
		`INSERT INTO orders (`+orderColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		order.ID,
		order.UserID,
		order.SubscriptionID,
		order.TariffID,
		order.ContactName,
		order.ContactPhone,
		order.ContactEmail,
		order.DueDate,
		order.PayStatus,
		order.JobHandle,
		order.CreatedAt,
		order.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*orderdomain.Order, error) {
	return r.find(ctx, conn, id, "")
}

// FindByIDForUpdate serializes every billing operation on one order.
func (r *repo) FindByIDForUpdate(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*orderdomain.Order, error) {
	return r.find(ctx, conn, id, db.ForUpdate(conn))
}

func (r *repo) find(ctx context.Context, conn *gorm.DB, id snowflake.ID, lock string) (*orderdomain.Order, error) {
	var order orderdomain.Order
	err := conn.WithContext(ctx).Raw(
		`SELECT `+orderColumns+` FROM orders WHERE id = ?`+lock,
		id,
	).Scan(&order).Error
	if err != nil {
		return nil, err
	}
	if order.ID == 0 {
		return nil, nil
	}
	return &order, nil
}

func (r *repo) ListByUser(ctx context.Context, conn *gorm.DB, userID snowflake.ID) ([]orderdomain.Order, error) {
	var orders []orderdomain.Order
	err := conn.WithContext(ctx).Raw(
		`SELECT `+orderColumns+` FROM orders WHERE user_id = ? ORDER BY created_at DESC, id DESC`,
		userID,
	).Scan(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
}

func (r *repo) UpdateSchedule(ctx context.Context, conn *gorm.DB, id snowflake.ID, schedule orderdomain.Schedule, at time.Time) error {
	return conn.WithContext(ctx).Exec(
		`UPDATE orders SET pay_status = ?, due_date = ?, job_handle = ?, updated_at = ? WHERE id = ?`,
		schedule.PayStatus,
		schedule.DueDate,
		schedule.JobHandle,
		at,
		id,
	).Error
}

func (r *repo) UpdateTariff(ctx context.Context, conn *gorm.DB, id, tariffID snowflake.ID, at time.Time) error {
	return conn.WithContext(ctx).Exec(
		`UPDATE orders SET tariff_id = ?, updated_at = ? WHERE id = ?`,
		tariffID,
		at,
		id,
	).Error
}

func (r *repo) ListActiveDueBefore(ctx context.Context, conn *gorm.DB, cutoff time.Time, afterID snowflake.ID, limit int) ([]orderdomain.Order, error) {
	var orders []orderdomain.Order
	err := conn.WithContext(ctx).Raw(
		`SELECT `+orderColumns+`
		 FROM orders
		 WHERE pay_status = ? AND due_date IS NOT NULL AND due_date < ? AND id > ?
		 ORDER BY id ASC
		 LIMIT ?`,
		true,
		cutoff,
		afterID,
		limit,
	).Scan(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
}
