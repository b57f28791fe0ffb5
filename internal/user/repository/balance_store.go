package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	userdomain "github.com/smallbiznis/subhub/internal/user/domain"
	"gorm.io/gorm"
)

type balanceStore struct{}

func ProvideBalanceStore() userdomain.BalanceStore {
	return &balanceStore{}
}

// Debit is a single conditional UPDATE: the row lock it takes serializes
// concurrent debits of the same user, and the balance guard rejects overdrafts.
func (s *balanceStore) Debit(ctx context.Context, tx *gorm.DB, userID snowflake.ID, amount int64, at time.Time) (int64, error) {
	if amount < 0 {
		return 0, userdomain.ErrInvalidAmount
	}

	res := tx.WithContext(ctx).Exec(
		`UPDATE users
		 SET balance = balance - ?, version = version + 1, updated_at = ?
		 WHERE id = ? AND balance >= ?`,
		amount,
		at,
		userID,
		amount,
	)
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected == 0 {
		if _, err := s.Balance(ctx, tx, userID); err != nil {
			return 0, err
		}
		return 0, userdomain.ErrInsufficientFunds
	}
	return s.Balance(ctx, tx, userID)
}

func (s *balanceStore) Credit(ctx context.Context, tx *gorm.DB, userID snowflake.ID, amount int64, at time.Time) (int64, error) {
	if amount < 0 {
		return 0, userdomain.ErrInvalidAmount
	}

	res := tx.WithContext(ctx).Exec(
		`UPDATE users
		 SET balance = balance + ?, version = version + 1, updated_at = ?
		 WHERE id = ?`,
		amount,
		at,
		userID,
	)
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected == 0 {
		return 0, userdomain.ErrUserNotFound
	}
	return s.Balance(ctx, tx, userID)
}

func (s *balanceStore) Balance(ctx context.Context, db *gorm.DB, userID snowflake.ID) (int64, error) {
	var row struct {
		ID      snowflake.ID
		Balance int64
	}
	err := db.WithContext(ctx).Raw(
		`SELECT id, balance FROM users WHERE id = ?`,
		userID,
	).Scan(&row).Error
	if err != nil {
		return 0, err
	}
	if row.ID == 0 {
		return 0, userdomain.ErrUserNotFound
	}
	return row.Balance, nil
}
