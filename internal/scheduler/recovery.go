package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/subhub/internal/jobqueue"
	obsmetrics "github.com/smallbiznis/subhub/internal/observability/metrics"
	orderdomain "github.com/smallbiznis/subhub/internal/order/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// RecoverJobsJob returns jobs whose claim lease expired to the due set.
func (s *Scheduler) RecoverJobsJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, jobRecoverJobs, 0)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}

	recovered, err := s.queue.RecoverExpired(ctx, s.clock.Now().UTC())
	if err != nil {
		err = &obsmetrics.QueueError{Err: err}
		s.logSchedulerError(ctx, run, "scheduler.recover.failed", jobRecoverJobs, err)
		return err
	}
	run.AddProcessed(recovered)
	if recovered > 0 {
		obsmetrics.Scheduler().AddBatchProcessed(jobRecoverJobs, "jobs", recovered)
		s.logger(ctx).Warn("recovered billing jobs with expired lease", zap.Int("count", recovered))
	}
	return nil
}

// ReconcileOrdersJob re-arms active orders that are past due by more than
// ReconcileGrace while the queue holds no job for them, e.g. after the queue
// backend lost its data. The re-armed job fires immediately and charges the
// missed cycle.
func (s *Scheduler) ReconcileOrdersJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, jobReconcileOrders, s.cfg.ReconcileBatch)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}

	now := s.clock.Now().UTC()
	cutoff := now.Add(-s.cfg.ReconcileGrace)
	var (
		after  snowflake.ID
		jobErr error
	)

	for {
		if err := ctx.Err(); err != nil {
			return errors.Join(jobErr, err)
		}
		orders, err := s.orders.ListActiveDueBefore(ctx, s.db, cutoff, after, s.cfg.ReconcileBatch)
		if err != nil {
			s.logSchedulerError(ctx, run, "scheduler.reconcile.failed", jobReconcileOrders, err)
			return errors.Join(jobErr, err)
		}
		if len(orders) == 0 {
			break
		}

		for _, order := range orders {
			after = order.ID
			if order.JobHandle != nil {
				exists, err := s.queue.Exists(ctx, jobqueue.Handle(*order.JobHandle))
				if err != nil {
					err = &obsmetrics.QueueError{Err: err}
					s.logSchedulerError(ctx, run, "scheduler.reconcile.failed", jobReconcileOrders, err)
					return errors.Join(jobErr, err)
				}
				if exists {
					continue
				}
			}

			rearmed, err := s.rearm(ctx, order, now)
			if err != nil {
				jobErr = errors.Join(jobErr, err)
				obsmetrics.Scheduler().IncBillingCycleError(obsmetrics.CycleStageRecovery, err)
				s.logSchedulerError(ctx, run, "scheduler.reconcile.failed", jobReconcileOrders, err,
					zap.String("order_id", order.ID.String()),
				)
				continue
			}
			if rearmed {
				run.AddProcessed(1)
				s.logger(ctx).Warn("re-armed billing job for order without a queued job",
					zap.String("order_id", order.ID.String()),
					zap.Timep("due_date", order.DueDate),
				)
			}
		}

		if len(orders) < s.cfg.ReconcileBatch {
			break
		}
	}
	return jobErr
}

// rearm schedules a job due now and stores its handle, unless the order moved
// on since it was listed.
func (s *Scheduler) rearm(ctx context.Context, listed orderdomain.Order, now time.Time) (bool, error) {
	var armed jobqueue.Handle
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		order, err := s.orders.FindByIDForUpdate(ctx, tx, listed.ID)
		if err != nil {
			return err
		}
		if order == nil || !order.PayStatus || !sameHandle(order.JobHandle, listed.JobHandle) {
			return nil
		}

		handle, err := s.queue.Schedule(ctx, now, order.ID)
		if err != nil {
			return &obsmetrics.QueueError{Err: err}
		}
		armed = handle
		value := handle.String()
		return s.orders.UpdateSchedule(ctx, tx, order.ID, orderdomain.Schedule{
			PayStatus: true,
			DueDate:   order.DueDate,
			JobHandle: &value,
		}, now)
	})
	if err != nil {
		if armed != "" {
			if revokeErr := s.queue.Revoke(context.WithoutCancel(ctx), armed); revokeErr != nil {
				s.logger(ctx).Warn("failed to revoke re-armed job", zap.String("handle", armed.String()), zap.Error(revokeErr))
			}
		}
		return false, err
	}
	return armed != "", nil
}

func sameHandle(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
