package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	InsertRun(ctx context.Context, db *gorm.DB, run *SettlementRun) error
	// UpdateRun writes the run status and counters.
	UpdateRun(ctx context.Context, db *gorm.DB, run *SettlementRun) error
	FindRunByPeriodKey(ctx context.Context, db *gorm.DB, periodKey string) (*SettlementRun, error)
}

// Service settles pending cashback into user balances.
type Service interface {
	// Settle runs the batch once for periodKey. Each user settles in its own
	// transaction; a failing user is recorded and skipped. A run left RUNNING
	// by an interrupted attempt is picked up and finished.
	Settle(ctx context.Context, periodKey string) (Result, error)
	SettleUser(ctx context.Context, userID snowflake.ID) (UserSettlement, error)
	// Settled reports whether the run for periodKey has completed.
	Settled(ctx context.Context, periodKey string) (bool, error)
}

var (
	ErrAlreadySettled   = errors.New("cashback_period_already_settled")
	ErrInvalidPeriodKey = errors.New("invalid_period_key")
)

// PeriodKey names the run of the cutoff at cutoff, e.g. "2026-10".
func PeriodKey(cutoff time.Time) string {
	return cutoff.UTC().Format("2006-01")
}

// ManualPeriodKey names an on-demand run.
func ManualPeriodKey(now time.Time) string {
	return "manual-" + now.UTC().Format("20060102T150405Z")
}

// IntervalPeriodKey names a test-mode run of the slot containing now.
func IntervalPeriodKey(now time.Time, interval time.Duration) string {
	return "interval-" + now.UTC().Truncate(interval).Format("20060102T150405Z")
}
