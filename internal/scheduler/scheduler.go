package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/subhub/internal/audit/domain"
	billingdomain "github.com/smallbiznis/subhub/internal/billing/domain"
	cashbackdomain "github.com/smallbiznis/subhub/internal/cashback/domain"
	"github.com/smallbiznis/subhub/internal/clock"
	"github.com/smallbiznis/subhub/internal/config"
	"github.com/smallbiznis/subhub/internal/jobqueue"
	"github.com/smallbiznis/subhub/internal/lock"
	obscontext "github.com/smallbiznis/subhub/internal/observability/context"
	obsmetrics "github.com/smallbiznis/subhub/internal/observability/metrics"
	orderdomain "github.com/smallbiznis/subhub/internal/order/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	jobDispatchCycles     = "dispatch_cycles"
	jobRecoverJobs        = "recover_jobs"
	jobReconcileOrders    = "reconcile_orders"
	jobCashbackSettlement = "cashback_settlement"
)

var ErrInvalidConfig = errors.New("scheduler: missing dependency")

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	AppConfig config.Config
	Queue     jobqueue.Queue
	Engine    billingdomain.Engine
	Orders    orderdomain.Repository
	Cashback  cashbackdomain.Service

	Config  Config                      `optional:"true"`
	Billing *config.BillingConfigHolder `optional:"true"`
	Locker  *lock.Locker                `optional:"true"`
}

// Scheduler drives billing cycles off the job queue and runs the periodic
// maintenance jobs. Several instances may run side by side: queue claims
// hand each job to one worker and settlement runs are unique per period.
type Scheduler struct {
	db       *gorm.DB
	log      *zap.Logger
	cfg      Config
	genID    *snowflake.Node
	clock    clock.Clock
	testMode bool
	queue    jobqueue.Queue
	engine   billingdomain.Engine
	orders   orderdomain.Repository
	cashback cashbackdomain.Service
	billing  *config.BillingConfigHolder
	locker   *lock.Locker
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.GenID == nil || p.Clock == nil || p.Queue == nil || p.Engine == nil || p.Orders == nil || p.Cashback == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		db:       p.DB,
		log:      p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:      p.Config.withDefaults(),
		genID:    p.GenID,
		clock:    p.Clock,
		testMode: p.AppConfig.BillingTestMode,
		queue:    p.Queue,
		engine:   p.Engine,
		orders:   p.Orders,
		cashback: p.Cashback,
		billing:  p.Billing,
		locker:   p.Locker,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx = obscontext.WithActor(ctx, string(auditdomain.ActorTypeSystem), "scheduler")
	ctx, run, owner := s.ensureJobRun(ctx, name, batchSize)
	if owner {
		s.logJobStart(ctx, run)
	}
	log := s.logger(ctx).With(
		zap.String("job", name),
		zap.String("run_id", run.runID),
	)
	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.IncJobRun(name)

	err := fn(ctx)
	schedMetrics.ObserveJobDuration(name, time.Since(start))
	if owner {
		if err != nil && run != nil && run.errorCount == 0 {
			run.IncError()
		}
		s.logJobFinish(ctx, run)
	}
	if err == nil {
		return nil
	}

	// deadline is a soft timeout; the next tick picks up the rest
	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		schedMetrics.IncJobTimeout(name)
	}
	schedMetrics.IncJobError(name, err)
	if isTimeout {
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

// RunOnce runs every enabled job once, in order.
func (s *Scheduler) RunOnce(parent context.Context) error {
	billing := s.billing.Get()
	jobs := []struct {
		Name  string
		Batch int
		Run   func(context.Context) error
	}{
		{jobRecoverJobs, 0, s.RecoverJobsJob},
		{jobDispatchCycles, billing.DispatchBatchSize, s.DispatchCyclesJob},
		{jobReconcileOrders, s.cfg.ReconcileBatch, s.ReconcileOrdersJob},
		{jobCashbackSettlement, 0, s.CashbackSettlementJob},
	}

	var err error
	for _, job := range jobs {
		if !s.isJobEnabled(job.Name) {
			continue
		}
		err = errors.Join(err, s.runJob(parent, job.Name, job.Batch, s.cfg.JobTimeout, job.Run))
	}
	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := time.Now().Add(s.cfg.RunInterval)
	schedMetrics := obsmetrics.Scheduler()

	s.log.Info("scheduler started",
		zap.Duration("interval", s.cfg.RunInterval),
		zap.Bool("billing_test_mode", s.testMode),
	)
	for {
		runLag := time.Since(nextRun)
		if runLag > 0 {
			schedMetrics.ObserveRunLoopLag(runLag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopped")
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	// empty means all jobs
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}
