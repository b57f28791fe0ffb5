package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/subhub/pkg/db/pagination"
	"gorm.io/gorm"
)

// Ledger writes transaction rows inside the caller's database transaction.
type Ledger interface {
	RecordDebit(ctx context.Context, tx *gorm.DB, userID snowflake.ID, orderID *snowflake.ID, amount int64, when time.Time, status TransactionStatus) (Transaction, error)
	RecordCashback(ctx context.Context, tx *gorm.DB, userID snowflake.ID, orderID *snowflake.ID, amount int64, when time.Time) (Transaction, error)
	// FindPendingDebit locks and returns the order's next-charge placeholder.
	// It returns ErrPendingDebitNotFound when there is none.
	FindPendingDebit(ctx context.Context, tx *gorm.DB, orderID snowflake.ID) (Transaction, error)
	MarkPaid(ctx context.Context, tx *gorm.DB, txn Transaction, at time.Time) error
	// RemovePendingDebit deletes the order's placeholder; a missing row is not an error.
	RemovePendingDebit(ctx context.Context, tx *gorm.DB, orderID snowflake.ID) (int64, error)
	// SettleCashback credits nothing itself: it flips the user's PENDING cashback
	// rows to CREDITED and returns their sum for the caller to credit.
	SettleCashback(ctx context.Context, tx *gorm.DB, userID snowflake.ID, at time.Time) (int64, int, error)
}

type ListHistoryRequest struct {
	UserID snowflake.ID
	Filter HistoryFilter
	pagination.Pagination
}

type ListHistoryResponse struct {
	pagination.PageInfo
	Transactions []Transaction `json:"transactions"`
}

type Service interface {
	ListHistory(context.Context, ListHistoryRequest) (ListHistoryResponse, error)
	Summary(ctx context.Context, userID snowflake.ID, now time.Time) (Summary, error)
}

var (
	ErrPendingDebitNotFound = errors.New("pending_debit_not_found")
	ErrInvalidAmount        = errors.New("invalid_amount")
	ErrInvalidStatus        = errors.New("invalid_status")
	ErrAlreadySettled       = errors.New("transaction_already_settled")
	ErrConcurrentSettlement = errors.New("concurrent_settlement")
)
