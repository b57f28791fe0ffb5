package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	redis "github.com/redis/go-redis/v9"
	billingdomain "github.com/smallbiznis/subhub/internal/billing/domain"
	"github.com/smallbiznis/subhub/internal/clock"
	"github.com/smallbiznis/subhub/internal/config"
	"github.com/smallbiznis/subhub/internal/jobqueue"
	ledgerdomain "github.com/smallbiznis/subhub/internal/ledger/domain"
	"github.com/smallbiznis/subhub/internal/lock"
	obsmetrics "github.com/smallbiznis/subhub/internal/observability/metrics"
	orderdomain "github.com/smallbiznis/subhub/internal/order/domain"
	schedtesting "github.com/smallbiznis/subhub/internal/scheduler/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRunJobTimeoutDoesNotReturnErrorAndIncrementsTimeout(t *testing.T) {
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	labels := map[string]string{"service": "subhub", "env": "unknown", "job": "timeout_job"}
	errorLabels := map[string]string{
		"service": "subhub",
		"env":     "unknown",
		"job":     "timeout_job",
		"reason":  obsmetrics.SchedulerJobReasonDeadlineExceeded,
	}
	obsmetrics.Scheduler()
	timeoutsBefore := counterValue(t, "subhub_scheduler_job_timeouts_total", labels)
	errorsBefore := counterValue(t, "subhub_scheduler_job_errors_total", errorLabels)

	s := &Scheduler{log: zap.NewNop(), genID: node, clock: clock.NewFakeClock(time.Time{})}
	err = s.runJob(context.Background(), "timeout_job", 0, 5*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, err)

	assert.Equal(t, timeoutsBefore+1, counterValue(t, "subhub_scheduler_job_timeouts_total", labels))
	assert.Equal(t, errorsBefore+1, counterValue(t, "subhub_scheduler_job_errors_total", errorLabels))
}

func TestRunJobWrapsErrors(t *testing.T) {
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	boom := errors.New("boom")

	s := &Scheduler{log: zap.NewNop(), genID: node, clock: clock.NewFakeClock(time.Time{})}
	err = s.runJob(context.Background(), "failing_job", 0, time.Second, func(context.Context) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "failing_job")
}

func TestIsJobEnabled(t *testing.T) {
	s := &Scheduler{}
	assert.True(t, s.isJobEnabled(jobDispatchCycles))

	s.cfg.EnabledJobs = []string{"DISPATCH_CYCLES"}
	assert.True(t, s.isJobEnabled(jobDispatchCycles))
	assert.False(t, s.isJobEnabled(jobCashbackSettlement))
}

func TestNewRejectsMissingDependencies(t *testing.T) {
	_, err := New(Params{Log: zap.NewNop()})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestDispatch_ChargesDueCycle(t *testing.T) {
	s := newSuite(t, suiteOptions{})
	ctx := context.Background()
	userID, order := s.subscribe(1000)
	require.Len(t, s.queue.Pending(), 1)

	s.clock.Set(date(2026, 11, 15, 9))
	require.NoError(t, s.sched.DispatchCyclesJob(ctx))
	assert.Equal(t, int64(700), s.fixtures.Balance(userID))

	s.clock.Set(date(2026, 11, 16, 9))
	require.NoError(t, s.sched.DispatchCyclesJob(ctx))

	assert.Equal(t, int64(400), s.fixtures.Balance(userID))
	assert.Equal(t, 2, s.fixtures.CountTransactions(userID, ledgerdomain.TransactionTypeDebit, ledgerdomain.StatusPaid))
	assert.Equal(t, 1, s.fixtures.CountTransactions(userID, ledgerdomain.TransactionTypeDebit, ledgerdomain.StatusPending))
	assert.Equal(t, 2, s.fixtures.CountTransactions(userID, ledgerdomain.TransactionTypeCashback, ledgerdomain.StatusPending))

	pending := s.queue.Pending()
	require.Len(t, pending, 1)
	assert.WithinDuration(t, date(2026, 12, 16, 9), pending[0].RunAt, 0)

	current := s.order(order.ID)
	assert.Equal(t, orderdomain.StateActive, current.State())
	require.NotNil(t, current.DueDate)
	assert.WithinDuration(t, date(2026, 12, 16, 9), *current.DueDate, 0)
}

func TestDispatch_LapsesWhenBalanceShort(t *testing.T) {
	s := newSuite(t, suiteOptions{})
	userID, order := s.subscribe(300)

	s.clock.Set(date(2026, 11, 16, 9))
	require.NoError(t, s.sched.DispatchCyclesJob(context.Background()))

	assert.Zero(t, s.fixtures.Balance(userID))
	assert.Empty(t, s.queue.Pending())
	assert.Equal(t, orderdomain.StateLapsed, s.order(order.ID).State())
	assert.Zero(t, s.fixtures.CountTransactions(userID, ledgerdomain.TransactionTypeDebit, ledgerdomain.StatusPending))
}

func TestDispatch_TestModeCycles(t *testing.T) {
	s := newSuite(t, suiteOptions{appConfig: config.Config{BillingTestMode: true}})
	ctx := context.Background()
	userID, order := s.subscribe(1000)

	for i := 0; i < 2; i++ {
		s.clock.Advance(10 * time.Second)
		require.NoError(t, s.sched.DispatchCyclesJob(ctx))
	}
	assert.Equal(t, int64(100), s.fixtures.Balance(userID))
	assert.Equal(t, 3, s.fixtures.CountTransactions(userID, ledgerdomain.TransactionTypeDebit, ledgerdomain.StatusPaid))
	assert.Equal(t, orderdomain.StateActive, s.order(order.ID).State())

	s.clock.Advance(10 * time.Second)
	require.NoError(t, s.sched.DispatchCyclesJob(ctx))
	assert.Equal(t, int64(100), s.fixtures.Balance(userID))
	assert.Equal(t, orderdomain.StateLapsed, s.order(order.ID).State())
	assert.Empty(t, s.queue.Pending())
}

// stubEngine fails FireCycle while err is set.
type stubEngine struct {
	billingdomain.Engine
	mu    sync.Mutex
	err   error
	fired []jobqueue.Handle
}

func (e *stubEngine) FireCycle(_ context.Context, orderID snowflake.ID, handle jobqueue.Handle) (billingdomain.CycleResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fired = append(e.fired, handle)
	if e.err != nil {
		return billingdomain.CycleResult{}, e.err
	}
	return billingdomain.CycleResult{OrderID: orderID, Trigger: billingdomain.TriggerFire, Outcome: billingdomain.OutcomeSkipped}, nil
}

func TestDispatch_InfrastructureFailureIsRetried(t *testing.T) {
	engine := &stubEngine{err: &obsmetrics.QueueError{Err: errors.New("redis down")}}
	s := newSuite(t, suiteOptions{engine: engine})
	ctx := context.Background()
	now := s.clock.Now()

	handle, err := s.queue.Schedule(ctx, now, 42)
	require.NoError(t, err)

	err = s.sched.DispatchCyclesJob(ctx)
	require.Error(t, err)

	pending := s.queue.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, handle, pending[0].Handle)
	assert.Equal(t, 1, pending[0].Attempts)
	backoff := config.DefaultBillingConfig().RetryBackoff
	assert.WithinDuration(t, now.Add(backoff), pending[0].RunAt, 0)

	engine.err = nil
	s.clock.Advance(backoff)
	require.NoError(t, s.sched.DispatchCyclesJob(ctx))
	assert.Empty(t, s.queue.Pending())
	assert.Equal(t, []jobqueue.Handle{handle, handle}, engine.fired)
}

func TestDispatch_ConcurrentBatch(t *testing.T) {
	engine := &stubEngine{}
	s := newSuite(t, suiteOptions{engine: engine})
	ctx := context.Background()

	total := config.DefaultBillingConfig().DispatchBatchSize + 5
	for i := 1; i <= total; i++ {
		_, err := s.queue.Schedule(ctx, s.clock.Now(), snowflake.ID(i))
		require.NoError(t, err)
	}

	require.NoError(t, s.sched.DispatchCyclesJob(ctx))
	assert.Len(t, engine.fired, total)
	assert.Empty(t, s.queue.Pending())
}

func TestRecoverJobs_ReleasesExpiredLeases(t *testing.T) {
	s := newSuite(t, suiteOptions{engine: &stubEngine{}})
	ctx := context.Background()

	_, err := s.queue.Schedule(ctx, s.clock.Now(), 42)
	require.NoError(t, err)
	claimed, err := s.queue.Claim(ctx, s.clock.Now(), 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.Empty(t, s.queue.Pending())

	require.NoError(t, s.sched.RecoverJobsJob(ctx))
	assert.Empty(t, s.queue.Pending())

	s.clock.Advance(2 * time.Minute)
	require.NoError(t, s.sched.RecoverJobsJob(ctx))
	assert.Len(t, s.queue.Pending(), 1)
}

func TestReconcile_RearmsLostJob(t *testing.T) {
	s := newSuite(t, suiteOptions{})
	ctx := context.Background()
	userID, order := s.subscribe(1000)

	require.NotNil(t, order.JobHandle)
	require.NoError(t, s.queue.Revoke(ctx, jobqueue.Handle(*order.JobHandle)))
	require.Empty(t, s.queue.Pending())

	s.clock.Set(date(2026, 11, 16, 9).Add(5 * time.Minute))
	require.NoError(t, s.sched.ReconcileOrdersJob(ctx))
	assert.Empty(t, s.queue.Pending(), "within grace the order is left alone")

	s.clock.Set(date(2026, 11, 16, 10))
	require.NoError(t, s.sched.ReconcileOrdersJob(ctx))
	pending := s.queue.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, order.ID, pending[0].OrderID)

	current := s.order(order.ID)
	require.NotNil(t, current.JobHandle)
	assert.Equal(t, pending[0].Handle.String(), *current.JobHandle)

	require.NoError(t, s.sched.DispatchCyclesJob(ctx))
	assert.Equal(t, int64(400), s.fixtures.Balance(userID))
	current = s.order(order.ID)
	require.NotNil(t, current.DueDate)
	assert.WithinDuration(t, date(2026, 12, 16, 9), *current.DueDate, 0)
}

func TestReconcile_KeepsQueuedJob(t *testing.T) {
	s := newSuite(t, suiteOptions{})
	ctx := context.Background()
	_, order := s.subscribe(1000)

	s.clock.Set(date(2026, 11, 17, 9))
	require.NoError(t, s.sched.ReconcileOrdersJob(ctx))

	pending := s.queue.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, *order.JobHandle, pending[0].Handle.String())
}

func TestCashbackSettlement_RunsOncePerCutoff(t *testing.T) {
	s := newSuite(t, suiteOptions{})
	ctx := context.Background()
	userID, _ := s.subscribe(1000)

	require.NoError(t, s.sched.CashbackSettlementJob(ctx))
	assert.Equal(t, int64(700), s.fixtures.Balance(userID), "no cutoff since 2026-09-25 within catch-up")

	s.clock.Set(date(2026, 10, 25, 0).Add(5 * time.Second))
	require.NoError(t, s.sched.CashbackSettlementJob(ctx))
	assert.Equal(t, int64(730), s.fixtures.Balance(userID))
	assert.Equal(t, 1, s.fixtures.CountTransactions(userID, ledgerdomain.TransactionTypeCashback, ledgerdomain.StatusCredited))

	s.clock.Advance(time.Hour)
	require.NoError(t, s.sched.CashbackSettlementJob(ctx))
	assert.Equal(t, int64(730), s.fixtures.Balance(userID))
}

func TestCashbackSettlement_CatchesUpAfterDowntime(t *testing.T) {
	s := newSuite(t, suiteOptions{})
	userID, _ := s.subscribe(1000)

	s.clock.Set(date(2026, 10, 27, 12))
	require.NoError(t, s.sched.CashbackSettlementJob(context.Background()))
	assert.Equal(t, int64(730), s.fixtures.Balance(userID))
}

func TestCashbackSettlement_TestModeInterval(t *testing.T) {
	s := newSuite(t, suiteOptions{appConfig: config.Config{BillingTestMode: true}})
	ctx := context.Background()
	userID, _ := s.subscribe(1000)

	require.NoError(t, s.sched.CashbackSettlementJob(ctx))
	assert.Equal(t, int64(730), s.fixtures.Balance(userID))

	s.clock.Advance(10 * time.Second)
	require.NoError(t, s.sched.DispatchCyclesJob(ctx))
	assert.Equal(t, int64(430), s.fixtures.Balance(userID))

	require.NoError(t, s.sched.CashbackSettlementJob(ctx))
	assert.Equal(t, int64(430), s.fixtures.Balance(userID), "same interval slot settles once")

	s.clock.Advance(50 * time.Second)
	require.NoError(t, s.sched.CashbackSettlementJob(ctx))
	assert.Equal(t, int64(460), s.fixtures.Balance(userID))
}

func TestCashbackSettlement_DefersWhileLockHeld(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	locker := lock.NewLocker(client)

	s := newSuite(t, suiteOptions{locker: locker})
	ctx := context.Background()
	userID, _ := s.subscribe(1000)

	key := settlementLockPrefix + "2026-10"
	token, ok, err := locker.TryLock(ctx, key, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	s.clock.Set(date(2026, 10, 25, 1))
	require.NoError(t, s.sched.CashbackSettlementJob(ctx))
	assert.Equal(t, int64(700), s.fixtures.Balance(userID))

	require.NoError(t, locker.Release(ctx, key, token))
	require.NoError(t, s.sched.CashbackSettlementJob(ctx))
	assert.Equal(t, int64(730), s.fixtures.Balance(userID))
	assert.False(t, mr.Exists(key))
}

func TestRunOnce_EndToEnd(t *testing.T) {
	s := newSuite(t, suiteOptions{})
	ctx := context.Background()
	userID, _ := s.subscribe(1000)

	s.clock.Set(date(2026, 11, 16, 9))
	require.NoError(t, s.sched.RunOnce(ctx))
	assert.Equal(t, int64(400), s.fixtures.Balance(userID))
	assert.Equal(t, 2, s.fixtures.CountTransactions(userID, ledgerdomain.TransactionTypeCashback, ledgerdomain.StatusPending))

	s.clock.Set(date(2026, 11, 25, 1))
	require.NoError(t, s.sched.RunOnce(ctx))
	assert.Equal(t, int64(460), s.fixtures.Balance(userID))
	assert.Equal(t, 2, s.fixtures.CountTransactions(userID, ledgerdomain.TransactionTypeCashback, ledgerdomain.StatusCredited))
}

func TestTimeAccelerator_FastForwardOrder(t *testing.T) {
	s := newSuite(t, suiteOptions{})
	ctx := context.Background()
	userID, order := s.subscribe(1000)
	accelerator := schedtesting.NewTimeAccelerator(s.db, s.queue, s.orderRepo)

	handle, err := accelerator.FastForwardOrder(ctx, order.ID, s.clock.Now().Add(time.Second))
	require.NoError(t, err)
	pending := s.queue.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, handle, pending[0].Handle)

	info, err := accelerator.GetOrderInfo(ctx, order.ID, s.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, handle.String(), info.JobHandle)
	assert.Equal(t, orderdomain.StateActive, info.State)

	s.clock.Advance(time.Second)
	require.NoError(t, s.sched.DispatchCyclesJob(ctx))
	assert.Equal(t, int64(400), s.fixtures.Balance(userID))

	current := s.order(order.ID)
	require.NotNil(t, current.DueDate)
	assert.WithinDuration(t, date(2026, 12, 16, 9), *current.DueDate, 0)

	moved, err := accelerator.FastForwardAllActive(ctx, s.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, moved)
}

func TestTimeAccelerator_RejectsInactiveOrder(t *testing.T) {
	s := newSuite(t, suiteOptions{})
	ctx := context.Background()
	userID, order := s.subscribe(1000)
	_, err := s.orders.Cancel(ctx, userID, order.ID)
	require.NoError(t, err)

	accelerator := schedtesting.NewTimeAccelerator(s.db, s.queue, s.orderRepo)
	_, err = accelerator.FastForwardOrder(ctx, order.ID, s.clock.Now())
	assert.ErrorIs(t, err, schedtesting.ErrOrderNotActive)
}

func counterValue(t *testing.T, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.Metric {
			if labelsMatch(metric, labels) {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func labelsMatch(metric *dto.Metric, labels map[string]string) bool {
	if len(metric.Label) != len(labels) {
		return false
	}
	for _, label := range metric.Label {
		if labels[label.GetName()] != label.GetValue() {
			return false
		}
	}
	return true
}
