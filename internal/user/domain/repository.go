package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, user *User) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*User, error)
	FindByUsername(ctx context.Context, db *gorm.DB, username string) (*User, error)
}

// BalanceStore is the only writer of User.Balance. Callers pass the
// transaction the balance change must commit with.
type BalanceStore interface {
	// Debit subtracts amount if the balance covers it and returns the new balance.
	Debit(ctx context.Context, tx *gorm.DB, userID snowflake.ID, amount int64, at time.Time) (int64, error)
	// Credit adds amount and returns the new balance.
	Credit(ctx context.Context, tx *gorm.DB, userID snowflake.ID, amount int64, at time.Time) (int64, error)
	Balance(ctx context.Context, db *gorm.DB, userID snowflake.ID) (int64, error)
}
