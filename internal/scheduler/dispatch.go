package scheduler

import (
	"context"
	"errors"

	"github.com/smallbiznis/subhub/internal/config"
	"github.com/smallbiznis/subhub/internal/jobqueue"
	obsmetrics "github.com/smallbiznis/subhub/internal/observability/metrics"
	"github.com/smallbiznis/subhub/pkg/telemetry/correlation"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DispatchCyclesJob claims due billing jobs and fires their cycles with
// bounded concurrency. A cycle that fails on infrastructure is released for
// a retry after RetryBackoff; everything else is acked.
func (s *Scheduler) DispatchCyclesJob(ctx context.Context) error {
	billing := s.billing.Get()
	if billing.DispatchBatchSize <= 0 {
		billing.DispatchBatchSize = config.DefaultBillingConfig().DispatchBatchSize
	}
	ctx, run, owner := s.ensureJobRun(ctx, jobDispatchCycles, billing.DispatchBatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}
	schedMetrics := obsmetrics.Scheduler()
	var jobErr error

	for {
		if err := ctx.Err(); err != nil {
			return errors.Join(jobErr, err)
		}

		now := s.clock.Now().UTC()
		jobs, err := s.queue.Claim(ctx, now, billing.DispatchBatchSize, billing.ClaimLease)
		if err != nil {
			err = &obsmetrics.QueueError{Err: err}
			s.logSchedulerError(ctx, run, "scheduler.claim.failed", jobDispatchCycles, err)
			return errors.Join(jobErr, err)
		}
		if len(jobs) == 0 {
			break
		}

		errs := make([]error, len(jobs))
		var g errgroup.Group
		g.SetLimit(max(billing.DispatchConcurrency, 1))
		for i, job := range jobs {
			g.Go(func() error {
				errs[i] = s.dispatchOne(ctx, job, billing)
				return nil
			})
		}
		_ = g.Wait()

		processed := 0
		for i, err := range errs {
			if err == nil {
				processed++
				continue
			}
			jobErr = errors.Join(jobErr, err)
			s.logSchedulerError(ctx, run, "scheduler.cycle.process.failed", jobDispatchCycles, err,
				zap.String("order_id", jobs[i].OrderID.String()),
				zap.String("handle", jobs[i].Handle.String()),
				zap.Int("attempts", jobs[i].Attempts),
			)
		}
		run.AddProcessed(processed)
		schedMetrics.AddBatchProcessed(jobDispatchCycles, "orders", processed)

		if len(jobs) < billing.DispatchBatchSize {
			break
		}
	}

	return jobErr
}

func (s *Scheduler) dispatchOne(ctx context.Context, job jobqueue.Job, billing config.BillingConfig) error {
	schedMetrics := obsmetrics.Scheduler()
	jobCtx := correlation.FromCarrier(ctx, job.Carrier)
	now := s.clock.Now().UTC()
	if lag := now.Sub(job.RunAt); lag > 0 {
		schedMetrics.ObserveDeliveryLag(lag)
	}
	s.logJobClaimed(jobCtx, job)

	// queue bookkeeping must survive a job timeout
	queueCtx := context.WithoutCancel(ctx)

	result, err := s.engine.FireCycle(jobCtx, job.OrderID, job.Handle)
	if err != nil {
		schedMetrics.IncBillingCycleError(obsmetrics.CycleStageFire, err)
		if relErr := s.queue.Release(queueCtx, job.Handle, now.Add(billing.RetryBackoff)); relErr != nil {
			err = errors.Join(err, &obsmetrics.QueueError{Err: relErr})
		}
		return err
	}
	s.logCycleResult(jobCtx, job, result)

	if err := s.queue.Ack(queueCtx, job.Handle); err != nil {
		// the lease expires and the duplicate delivery is skipped by handle
		return &obsmetrics.QueueError{Err: err}
	}
	return nil
}
