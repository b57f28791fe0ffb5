package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/subhub/pkg/db/pagination"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, txn *Transaction) error
	FindPendingDebitForUpdate(ctx context.Context, db *gorm.DB, orderID snowflake.ID) (*Transaction, error)
	MarkPaid(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (bool, error)
	DeletePendingDebits(ctx context.Context, db *gorm.DB, orderID snowflake.ID) (int64, error)
	CountPendingDebits(ctx context.Context, db *gorm.DB, orderID snowflake.ID) (int64, error)

	ListPendingCashbackForUpdate(ctx context.Context, db *gorm.DB, userID snowflake.ID) ([]Transaction, error)
	MarkCredited(ctx context.Context, db *gorm.DB, ids []snowflake.ID, at time.Time) (int64, error)
	ListUsersWithPendingCashback(ctx context.Context, db *gorm.DB, afterUserID snowflake.ID, limit int) ([]snowflake.ID, error)

	ListByUser(ctx context.Context, db *gorm.DB, userID snowflake.ID, filter HistoryFilter, cursor *pagination.Cursor, limit int) ([]Transaction, error)
	SumByUser(ctx context.Context, db *gorm.DB, userID snowflake.ID, txnType TransactionType, statuses []TransactionStatus, from, to time.Time) (int64, error)
}
