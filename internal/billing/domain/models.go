package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/subhub/internal/jobqueue"
	orderdomain "github.com/smallbiznis/subhub/internal/order/domain"
	"gorm.io/gorm"
)

// Trigger names what started a cycle.
type Trigger string

const (
	TriggerFirst  Trigger = "first"
	TriggerResume Trigger = "resume"
	TriggerFire   Trigger = "fire"
)

type Outcome string

const (
	OutcomeCharged Outcome = "charged"
	OutcomeSkipped Outcome = "skipped"
	OutcomeLapsed  Outcome = "lapsed"
)

// Skip and lapse reasons. Skips are benign duplicate or stale deliveries.
const (
	ReasonOrderNotFound        = "order_not_found"
	ReasonOrderInactive        = "order_inactive"
	ReasonHandleMismatch       = "handle_mismatch"
	ReasonPendingDebitNotFound = "pending_debit_not_found"
	ReasonInsufficientFunds    = "insufficient_funds"
	ReasonTariffNotFound       = "tariff_not_found"
	ReasonExecutionError       = "execution_error"
)

// CycleResult describes one cycle execution.
type CycleResult struct {
	OrderID  snowflake.ID
	Trigger  Trigger
	Outcome  Outcome
	Reason   string
	Charged  int64
	Cashback int64
	// ChargedAt is the ledger date of the PAID debit.
	ChargedAt time.Time
	NextDue   *time.Time
	Handle    jobqueue.Handle
}

// Engine runs billing cycles for orders. StartCycle and StopCycle join the
// caller's transaction; FireCycle owns its transactions.
type Engine interface {
	// StartCycle charges the first or resumed cycle of order and arms the next
	// one. The caller must hold the order row (inserted or locked in tx).
	StartCycle(ctx context.Context, tx *gorm.DB, order *orderdomain.Order, trigger Trigger) (CycleResult, error)
	// FireCycle runs the scheduled cycle delivered for handle. Duplicate and
	// stale deliveries are skipped; business failures lapse the order.
	FireCycle(ctx context.Context, orderID snowflake.ID, handle jobqueue.Handle) (CycleResult, error)
	// StopCycle removes the order's next-charge placeholder and clears its
	// schedule. It returns the job handle to revoke once tx commits.
	StopCycle(ctx context.Context, tx *gorm.DB, order *orderdomain.Order) (jobqueue.Handle, error)
	// RevokeJob drops a scheduled job, logging instead of failing.
	RevokeJob(ctx context.Context, handle jobqueue.Handle)
}
