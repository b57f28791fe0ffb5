package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type TransactionType string

const (
	TransactionTypeDebit    TransactionType = "DEBIT"
	TransactionTypeCashback TransactionType = "CASHBACK"
)

type TransactionStatus string

const (
	// StatusPending marks a scheduled debit or unsettled cashback.
	StatusPending  TransactionStatus = "PENDING"
	StatusPaid     TransactionStatus = "PAID"
	StatusCredited TransactionStatus = "CREDITED"
)

// Transaction is one money movement of a user. Rows are never updated except
// for the status transition PENDING -> PAID (debits) or PENDING -> CREDITED
// (cashback). OrderID is nil once the order that produced it is gone.
type Transaction struct {
	ID              snowflake.ID      `gorm:"primaryKey" json:"id"`
	UserID          snowflake.ID      `gorm:"not null;index:idx_transactions_user_date,priority:1" json:"user_id"`
	OrderID         *snowflake.ID     `gorm:"index" json:"order_id,omitempty"`
	Amount          int64             `gorm:"not null" json:"amount"`
	Type            TransactionType   `gorm:"column:transaction_type;not null" json:"transaction_type"`
	Status          TransactionStatus `gorm:"not null" json:"status"`
	TransactionDate time.Time         `gorm:"not null;index:idx_transactions_user_date,priority:2" json:"transaction_date"`
	CreatedAt       time.Time         `gorm:"not null" json:"created_at"`
	UpdatedAt       time.Time         `gorm:"not null" json:"updated_at"`
}

func (Transaction) TableName() string { return "transactions" }

// HistoryFilter narrows ListHistory. Zero values mean "any".
type HistoryFilter struct {
	Type   TransactionType
	Status TransactionStatus
	From   *time.Time
	To     *time.Time
}

// Summary aggregates a user's spending around a reference time.
type Summary struct {
	TotalCurrentMonth int64     `json:"total_current_month"`
	TotalNextMonth    int64     `json:"total_next_month"`
	TotalCashback     int64     `json:"total_cashback"`
	CashbackFrom      time.Time `json:"cashback_from"`
	CashbackTo        time.Time `json:"cashback_to"`
}
