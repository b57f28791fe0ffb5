package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/subhub/internal/audit/domain"
	auditsvc "github.com/smallbiznis/subhub/internal/audit/service"
	billingdomain "github.com/smallbiznis/subhub/internal/billing/domain"
	"github.com/smallbiznis/subhub/internal/billing/guard"
	catalogdomain "github.com/smallbiznis/subhub/internal/catalog/domain"
	"github.com/smallbiznis/subhub/internal/clock"
	"github.com/smallbiznis/subhub/internal/config"
	"github.com/smallbiznis/subhub/internal/jobqueue"
	ledgerdomain "github.com/smallbiznis/subhub/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/subhub/internal/observability/metrics"
	"github.com/smallbiznis/subhub/internal/observability/tracing"
	orderdomain "github.com/smallbiznis/subhub/internal/order/domain"
	"github.com/smallbiznis/subhub/internal/pricing"
	userdomain "github.com/smallbiznis/subhub/internal/user/domain"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const tracerScope = "subhub/billing"

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Config     config.Config
	Billing    *config.BillingConfigHolder `optional:"true"`
	Clock      clock.Clock
	Orders     orderdomain.Repository
	Catalog    catalogdomain.Repository
	Ledger     ledgerdomain.Ledger
	Balances   userdomain.BalanceStore
	Scheduler  jobqueue.Scheduler
	Audit      auditdomain.Service `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Engine struct {
	db           *gorm.DB
	log          *zap.Logger
	testMode     bool
	billing      *config.BillingConfigHolder
	clock        clock.Clock
	orders       orderdomain.Repository
	catalog      catalogdomain.Repository
	ledger       ledgerdomain.Ledger
	balances     userdomain.BalanceStore
	scheduler    jobqueue.Scheduler
	audit        auditdomain.Service
	obsMetrics   *obsmetrics.Metrics
	schedMetrics *obsmetrics.SchedulerMetrics
}

func New(p Params) billingdomain.Engine {
	return &Engine{
		db:           p.DB,
		log:          p.Log.Named("billing.engine"),
		testMode:     p.Config.BillingTestMode,
		billing:      p.Billing,
		clock:        p.Clock,
		orders:       p.Orders,
		catalog:      p.Catalog,
		ledger:       p.Ledger,
		balances:     p.Balances,
		scheduler:    p.Scheduler,
		audit:        p.Audit,
		obsMetrics:   p.ObsMetrics,
		schedMetrics: obsmetrics.Scheduler(),
	}
}

// testInterval replaces the calendar period when test mode is on.
func (e *Engine) testInterval() time.Duration {
	if !e.testMode {
		return 0
	}
	return e.billing.Get().TestCycleInterval
}

func (e *Engine) StartCycle(ctx context.Context, tx *gorm.DB, order *orderdomain.Order, trigger billingdomain.Trigger) (result billingdomain.CycleResult, err error) {
	ctx, span := tracing.Start(ctx, tracerScope, "billing.start_cycle",
		attribute.String("order_id", order.ID.String()),
		attribute.String("trigger", string(trigger)),
	)
	defer func() { tracing.End(span, err) }()

	result = billingdomain.CycleResult{OrderID: order.ID, Trigger: trigger}

	tariff, err := e.catalog.FindTariffByID(ctx, tx, order.TariffID)
	if err != nil {
		return result, err
	}
	if tariff == nil {
		return result, catalogdomain.ErrTariffNotFound
	}
	subscription, err := e.catalog.FindSubscriptionByID(ctx, tx, order.SubscriptionID)
	if err != nil {
		return result, err
	}
	if subscription == nil {
		return result, catalogdomain.ErrSubscriptionNotFound
	}

	now := e.clock.Now().UTC()

	// a resumed order may still carry the placeholder of its lapsed cycle
	if _, err := e.ledger.RemovePendingDebit(ctx, tx, order.ID); err != nil {
		return result, err
	}

	charge := tariff.PricePerPeriod
	if _, err := e.balances.Debit(ctx, tx, order.UserID, charge, now); err != nil {
		return result, err
	}
	cashback := pricing.CashbackAmount(charge, subscription.CashbackPercent)
	orderID := order.ID
	if _, err := e.ledger.RecordDebit(ctx, tx, order.UserID, &orderID, charge, now, ledgerdomain.StatusPaid); err != nil {
		return result, err
	}
	if _, err := e.ledger.RecordCashback(ctx, tx, order.UserID, &orderID, cashback, now); err != nil {
		return result, err
	}

	due := pricing.NextDue(now, tariff.Period, e.testInterval())
	handle, err := e.arm(ctx, tx, order, charge, due)
	if err != nil {
		return result, err
	}

	e.obsMetrics.RecordBalanceMovement(ctx, "debit", charge)
	e.log.Info("billing cycle started",
		zap.String("order_id", order.ID.String()),
		zap.String("trigger", string(trigger)),
		zap.Int64("charged", charge),
		zap.Time("due_date", due),
	)

	result.Outcome = billingdomain.OutcomeCharged
	result.Charged = charge
	result.Cashback = cashback
	result.ChargedAt = now
	result.NextDue = &due
	result.Handle = handle
	return result, nil
}

// arm writes the next-charge placeholder, schedules its job and stores the
// new schedule on the order.
func (e *Engine) arm(ctx context.Context, tx *gorm.DB, order *orderdomain.Order, amount int64, due time.Time) (jobqueue.Handle, error) {
	orderID := order.ID
	if _, err := e.ledger.RecordDebit(ctx, tx, order.UserID, &orderID, amount, due, ledgerdomain.StatusPending); err != nil {
		return "", err
	}

	handle, err := e.scheduler.Schedule(ctx, due, order.ID)
	if err != nil {
		return "", &obsmetrics.QueueError{Err: err}
	}

	value := handle.String()
	schedule := orderdomain.Schedule{PayStatus: true, DueDate: &due, JobHandle: &value}
	if err := e.orders.UpdateSchedule(ctx, tx, order.ID, schedule, e.clock.Now().UTC()); err != nil {
		e.RevokeJob(ctx, handle)
		return "", err
	}

	order.PayStatus = true
	order.DueDate = &due
	order.JobHandle = &value
	return handle, nil
}

func (e *Engine) FireCycle(ctx context.Context, orderID snowflake.ID, handle jobqueue.Handle) (result billingdomain.CycleResult, err error) {
	ctx, span := tracing.Start(ctx, tracerScope, "billing.fire_cycle",
		attribute.String("order_id", orderID.String()),
		attribute.String("job_handle", handle.String()),
	)
	defer func() { tracing.End(span, err) }()

	result = billingdomain.CycleResult{OrderID: orderID, Trigger: billingdomain.TriggerFire}

	var armed jobqueue.Handle
	var order orderdomain.Order
	fireErr := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		lockStart := time.Now()
		locked, err := e.orders.FindByIDForUpdate(ctx, tx, orderID)
		e.schedMetrics.ObserveDBLockWait(obsmetrics.LockResourceOrderByID, time.Since(lockStart))
		if err != nil {
			return err
		}
		if locked == nil {
			result.Outcome, result.Reason = billingdomain.OutcomeSkipped, billingdomain.ReasonOrderNotFound
			return nil
		}
		order = *locked

		if err := guard.EnsureOrderCanFire(locked, handle.String()); err != nil {
			result.Outcome, result.Reason = billingdomain.OutcomeSkipped, skipReason(err)
			return nil
		}

		pending, err := e.ledger.FindPendingDebit(ctx, tx, orderID)
		if errors.Is(err, ledgerdomain.ErrPendingDebitNotFound) {
			result.Outcome, result.Reason = billingdomain.OutcomeSkipped, billingdomain.ReasonPendingDebitNotFound
			return nil
		}
		if err != nil {
			return err
		}

		tariff, err := e.catalog.FindTariffByID(ctx, tx, locked.TariffID)
		if err != nil {
			return err
		}
		if tariff == nil {
			return catalogdomain.ErrTariffNotFound
		}
		subscription, err := e.catalog.FindSubscriptionByID(ctx, tx, locked.SubscriptionID)
		if err != nil {
			return err
		}
		if subscription == nil {
			return catalogdomain.ErrSubscriptionNotFound
		}

		now := e.clock.Now().UTC()
		charge := tariff.PricePerPeriod
		if _, err := e.balances.Debit(ctx, tx, locked.UserID, charge, now); err != nil {
			return err
		}

		// the placeholder was priced with the tariff of the previous cycle
		if pending.Amount == charge {
			if err := e.ledger.MarkPaid(ctx, tx, pending, now); err != nil {
				return err
			}
		} else {
			if _, err := e.ledger.RemovePendingDebit(ctx, tx, orderID); err != nil {
				return err
			}
			if _, err := e.ledger.RecordDebit(ctx, tx, locked.UserID, &orderID, charge, pending.TransactionDate, ledgerdomain.StatusPaid); err != nil {
				return err
			}
		}

		cashback := pricing.CashbackAmount(charge, subscription.CashbackPercent)
		if _, err := e.ledger.RecordCashback(ctx, tx, locked.UserID, &orderID, cashback, now); err != nil {
			return err
		}

		next := pricing.NextDue(*locked.DueDate, tariff.Period, e.testInterval())
		armed, err = e.arm(ctx, tx, locked, charge, next)
		if err != nil {
			return err
		}

		result.Outcome = billingdomain.OutcomeCharged
		result.Charged = charge
		result.Cashback = cashback
		result.ChargedAt = pending.TransactionDate
		result.NextDue = &next
		result.Handle = armed
		return nil
	})

	if fireErr == nil {
		e.recordFire(ctx, order, result)
		return result, nil
	}

	// the transaction rolled back; the job armed inside it is orphaned
	if armed != "" {
		e.RevokeJob(ctx, armed)
	}
	if isInfrastructureErr(ctx, fireErr) {
		e.schedMetrics.IncBillingCycleError(obsmetrics.CycleStageFire, fireErr)
		return result, fmt.Errorf("fire cycle: %w", fireErr)
	}

	return e.lapse(ctx, orderID, handle, fireErr)
}

// lapse deactivates the order after a failed scheduled cycle. The due date is
// kept; the placeholder and the job handle are cleared.
func (e *Engine) lapse(ctx context.Context, orderID snowflake.ID, handle jobqueue.Handle, cause error) (billingdomain.CycleResult, error) {
	result := billingdomain.CycleResult{
		OrderID: orderID,
		Trigger: billingdomain.TriggerFire,
		Outcome: billingdomain.OutcomeLapsed,
		Reason:  lapseReason(cause),
	}
	e.schedMetrics.IncBillingCycleError(obsmetrics.CycleStageFire, cause)

	var lapsed *orderdomain.Order
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		order, err := e.orders.FindByIDForUpdate(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if order == nil || guard.EnsureOrderCanFire(order, handle.String()) != nil {
			return nil
		}
		if _, err := e.ledger.RemovePendingDebit(ctx, tx, orderID); err != nil {
			return err
		}
		schedule := orderdomain.Schedule{PayStatus: false, DueDate: order.DueDate}
		if err := e.orders.UpdateSchedule(ctx, tx, orderID, schedule, e.clock.Now().UTC()); err != nil {
			return err
		}
		order.PayStatus = false
		order.JobHandle = nil
		lapsed = order
		return nil
	})
	if err != nil {
		e.schedMetrics.IncBillingCycleError(obsmetrics.CycleStageLapse, err)
		e.log.Error("order lapse failed",
			zap.String("order_id", orderID.String()),
			zap.NamedError("cause", cause),
			zap.Error(err),
		)
		return result, fmt.Errorf("lapse order: %w", err)
	}

	if lapsed == nil {
		// cancelled or re-armed while the cycle ran
		result.Outcome, result.Reason = billingdomain.OutcomeSkipped, billingdomain.ReasonOrderInactive
		e.obsMetrics.RecordBillingCycle(ctx, string(result.Trigger), string(result.Outcome), result.Reason)
		return result, nil
	}

	e.log.Warn("order lapsed",
		zap.String("order_id", orderID.String()),
		zap.String("reason", result.Reason),
		zap.Error(cause),
	)
	e.obsMetrics.RecordBillingCycle(ctx, string(result.Trigger), string(result.Outcome), result.Reason)
	e.schedMetrics.IncOrderTransition(obsmetrics.OrderStateActive, obsmetrics.OrderStateLapsed)
	auditsvc.Record(ctx, e.audit, e.log, auditdomain.ActionOrderLapsed, "order", orderID.String(), map[string]any{
		"user_id":  lapsed.UserID.String(),
		"reason":   result.Reason,
		"due_date": lapsed.DueDate,
	})
	return result, nil
}

func (e *Engine) recordFire(ctx context.Context, order orderdomain.Order, result billingdomain.CycleResult) {
	e.obsMetrics.RecordBillingCycle(ctx, string(result.Trigger), string(result.Outcome), result.Reason)
	if result.Outcome != billingdomain.OutcomeCharged {
		e.log.Info("billing cycle skipped",
			zap.String("order_id", result.OrderID.String()),
			zap.String("reason", result.Reason),
		)
		return
	}

	e.obsMetrics.RecordBalanceMovement(ctx, "debit", result.Charged)
	e.log.Info("billing cycle charged",
		zap.String("order_id", result.OrderID.String()),
		zap.Int64("charged", result.Charged),
		zap.Timep("next_due", result.NextDue),
	)
	auditsvc.Record(ctx, e.audit, e.log, auditdomain.ActionOrderCharged, "order", result.OrderID.String(), map[string]any{
		"user_id":  order.UserID.String(),
		"amount":   result.Charged,
		"cashback": result.Cashback,
		"next_due": result.NextDue,
	})
}

func (e *Engine) StopCycle(ctx context.Context, tx *gorm.DB, order *orderdomain.Order) (jobqueue.Handle, error) {
	if err := guard.EnsureOrderCanCancel(order); err != nil {
		return "", err
	}
	// tolerates a placeholder already consumed by a concurrent fire
	if _, err := e.ledger.RemovePendingDebit(ctx, tx, order.ID); err != nil {
		return "", err
	}
	if err := e.orders.UpdateSchedule(ctx, tx, order.ID, orderdomain.Schedule{}, e.clock.Now().UTC()); err != nil {
		return "", err
	}

	var handle jobqueue.Handle
	if order.JobHandle != nil {
		handle = jobqueue.Handle(*order.JobHandle)
	}
	order.PayStatus = false
	order.DueDate = nil
	order.JobHandle = nil
	return handle, nil
}

func (e *Engine) RevokeJob(ctx context.Context, handle jobqueue.Handle) {
	if handle == "" {
		return
	}
	if err := e.scheduler.Revoke(ctx, handle); err != nil {
		e.log.Warn("job revoke failed", zap.String("job_handle", handle.String()), zap.Error(err))
	}
}

func skipReason(err error) string {
	switch {
	case errors.Is(err, guard.ErrHandleMismatch):
		return billingdomain.ReasonHandleMismatch
	default:
		return billingdomain.ReasonOrderInactive
	}
}

func lapseReason(err error) string {
	switch {
	case errors.Is(err, userdomain.ErrInsufficientFunds):
		return billingdomain.ReasonInsufficientFunds
	case errors.Is(err, catalogdomain.ErrTariffNotFound), errors.Is(err, catalogdomain.ErrSubscriptionNotFound):
		return billingdomain.ReasonTariffNotFound
	default:
		return billingdomain.ReasonExecutionError
	}
}

// isInfrastructureErr reports failures the job should be redelivered for
// instead of lapsing the order.
func isInfrastructureErr(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var queueErr *obsmetrics.QueueError
	return errors.As(err, &queueErr)
}
