package scheduler

import (
	"context"
	"errors"
	"time"

	cashbackdomain "github.com/smallbiznis/subhub/internal/cashback/domain"
	obsmetrics "github.com/smallbiznis/subhub/internal/observability/metrics"
	"github.com/smallbiznis/subhub/internal/pricing"
	"go.uber.org/zap"
)

const settlementLockPrefix = "subhub:lock:cashback_settlement:"

// CashbackSettlementJob settles pending cashback once per cutoff. The run is
// keyed by the cutoff month, so it fires on the first tick after the cutoff
// and catches up within SettlementCatchUp if the scheduler was down. In
// billing test mode it runs every TestSettlementInterval instead.
func (s *Scheduler) CashbackSettlementJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, jobCashbackSettlement, 0)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}
	schedMetrics := obsmetrics.Scheduler()

	periodKey, due := s.settlementPeriod(s.clock.Now().UTC())
	if !due {
		return nil
	}
	settled, err := s.cashback.Settled(ctx, periodKey)
	if err != nil {
		s.logSchedulerError(ctx, run, "scheduler.settlement.failed", jobCashbackSettlement, err)
		return err
	}
	if settled {
		return nil
	}

	if s.locker.Enabled() {
		lockKey := settlementLockPrefix + periodKey
		token, ok, err := s.locker.TryLock(ctx, lockKey, s.cfg.SettlementLockTTL)
		if err != nil {
			s.logSchedulerError(ctx, run, "scheduler.settlement.lock_failed", jobCashbackSettlement, err)
			return err
		}
		if !ok {
			schedMetrics.IncBatchDeferred(jobCashbackSettlement, obsmetrics.SchedulerBatchDeferredReasonLockHeld)
			return nil
		}
		defer func() {
			if err := s.locker.Release(context.WithoutCancel(ctx), lockKey, token); err != nil {
				s.logger(ctx).Warn("failed to release settlement lock", zap.Error(err))
			}
		}()
	}

	result, err := s.cashback.Settle(ctx, periodKey)
	if errors.Is(err, cashbackdomain.ErrAlreadySettled) {
		schedMetrics.IncBatchDeferred(jobCashbackSettlement, obsmetrics.SchedulerBatchDeferredReasonAlreadySettled)
		return nil
	}
	if err != nil {
		s.logSchedulerError(ctx, run, "scheduler.settlement.failed", jobCashbackSettlement, err,
			zap.String("period_key", periodKey),
		)
		return err
	}

	run.AddProcessed(result.UsersSettled)
	for i := 0; i < result.UsersFailed; i++ {
		run.IncError()
	}
	return nil
}

func (s *Scheduler) settlementPeriod(now time.Time) (string, bool) {
	billing := s.billing.Get()
	if s.testMode && billing.TestSettlementInterval > 0 {
		return cashbackdomain.IntervalPeriodKey(now, billing.TestSettlementInterval), true
	}
	cutoff, _ := pricing.CashbackWindow(now, billing.CashbackDay)
	if now.Sub(cutoff) >= s.cfg.SettlementCatchUp {
		return "", false
	}
	return cashbackdomain.PeriodKey(cutoff), true
}
