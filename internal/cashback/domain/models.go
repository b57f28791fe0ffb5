package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type RunStatus string

const (
	RunStatusRunning   RunStatus = "RUNNING"
	RunStatusCompleted RunStatus = "COMPLETED"
)

// SettlementRun records the settlement batch of one period. PeriodKey is
// unique, so a cutoff is settled at most once even with several schedulers.
// Counters are saved after every page of users, so a RUNNING run that was
// interrupted keeps what it already credited.
type SettlementRun struct {
	ID             snowflake.ID `gorm:"primaryKey" json:"id"`
	PeriodKey      string       `gorm:"not null;uniqueIndex" json:"period_key"`
	Status         RunStatus    `gorm:"not null" json:"status"`
	UsersSettled   int          `gorm:"not null;default:0" json:"users_settled"`
	UsersFailed    int          `gorm:"not null;default:0" json:"users_failed"`
	AmountCredited int64        `gorm:"not null;default:0" json:"amount_credited"`
	StartedAt      time.Time    `gorm:"not null" json:"started_at"`
	FinishedAt     *time.Time   `json:"finished_at,omitempty"`
	CreatedAt      time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt      time.Time    `gorm:"not null" json:"updated_at"`
}

func (SettlementRun) TableName() string { return "cashback_settlement_runs" }

// UserSettlement is the result of settling one user.
type UserSettlement struct {
	UserID snowflake.ID
	Amount int64
	Rows   int
	Err    error
}

// Result summarises a batch run.
type Result struct {
	RunID          snowflake.ID
	PeriodKey      string
	UsersSettled   int
	UsersFailed    int
	AmountCredited int64
	Failures       []UserSettlement
}
