package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	billingdomain "github.com/smallbiznis/subhub/internal/billing/domain"
	billingsvc "github.com/smallbiznis/subhub/internal/billing/service"
	catalogdomain "github.com/smallbiznis/subhub/internal/catalog/domain"
	catalogrepo "github.com/smallbiznis/subhub/internal/catalog/repository"
	"github.com/smallbiznis/subhub/internal/clock"
	"github.com/smallbiznis/subhub/internal/config"
	"github.com/smallbiznis/subhub/internal/jobqueue"
	ledgerdomain "github.com/smallbiznis/subhub/internal/ledger/domain"
	ledgerrepo "github.com/smallbiznis/subhub/internal/ledger/repository"
	ledgersvc "github.com/smallbiznis/subhub/internal/ledger/service"
	orderdomain "github.com/smallbiznis/subhub/internal/order/domain"
	orderrepo "github.com/smallbiznis/subhub/internal/order/repository"
	"github.com/smallbiznis/subhub/internal/pricing"
	"github.com/smallbiznis/subhub/internal/testutil"
	userdomain "github.com/smallbiznis/subhub/internal/user/domain"
	userrepo "github.com/smallbiznis/subhub/internal/user/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type harness struct {
	t         *testing.T
	db        *gorm.DB
	genID     *snowflake.Node
	fixtures  *testutil.Fixtures
	clock     *clock.FakeClock
	scheduler *testutil.RecordingScheduler
	orders    orderdomain.Repository
	ledger    ledgerdomain.Repository
	engine    billingdomain.Engine
}

func newHarness(t *testing.T, cfg config.Config) *harness {
	t.Helper()

	conn := testutil.NewDB(t)
	node := testutil.NewNode(t)
	clk := clock.NewFakeClock(testutil.Now())
	scheduler := testutil.NewRecordingScheduler()
	orders := orderrepo.Provide()
	ledgerRepo := ledgerrepo.Provide()

	ledger := ledgersvc.NewLedger(ledgersvc.Params{
		DB:    conn,
		Log:   zap.NewNop(),
		GenID: node,
		Repo:  ledgerRepo,
	})
	engine := billingsvc.New(billingsvc.Params{
		DB:        conn,
		Log:       zap.NewNop(),
		Config:    cfg,
		Billing:   config.NewStaticBillingConfigHolder(config.DefaultBillingConfig()),
		Clock:     clk,
		Orders:    orders,
		Catalog:   catalogrepo.Provide(),
		Ledger:    ledger,
		Balances:  userrepo.ProvideBalanceStore(),
		Scheduler: scheduler,
	})

	return &harness{
		t:         t,
		db:        conn,
		genID:     node,
		fixtures:  testutil.NewFixtures(t, conn, node),
		clock:     clk,
		scheduler: scheduler,
		orders:    orders,
		ledger:    ledgerRepo,
		engine:    engine,
	}
}

// start inserts an order and runs its first cycle like the order service does.
func (h *harness) start(userID, subscriptionID, tariffID snowflake.ID) (orderdomain.Order, billingdomain.CycleResult, error) {
	h.t.Helper()
	ctx := context.Background()
	now := h.clock.Now()
	order := orderdomain.Order{
		ID:             h.genID.Generate(),
		UserID:         userID,
		SubscriptionID: subscriptionID,
		TariffID:       tariffID,
		ContactName:    "Jane Doe",
		ContactPhone:   "+15550001111",
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	var result billingdomain.CycleResult
	err := h.db.Transaction(func(tx *gorm.DB) error {
		if err := h.orders.Insert(ctx, tx, &order); err != nil {
			return err
		}
		var err error
		result, err = h.engine.StartCycle(ctx, tx, &order, billingdomain.TriggerFirst)
		return err
	})
	return order, result, err
}

func (h *harness) order(id snowflake.ID) orderdomain.Order {
	h.t.Helper()
	order, err := h.orders.FindByID(context.Background(), h.db, id)
	require.NoError(h.t, err)
	require.NotNil(h.t, order)
	return *order
}

func (h *harness) pendingDebits(userID snowflake.ID) []ledgerdomain.Transaction {
	var out []ledgerdomain.Transaction
	for _, row := range h.fixtures.Transactions(userID) {
		if row.Type == ledgerdomain.TransactionTypeDebit && row.Status == ledgerdomain.StatusPending {
			out = append(out, row)
		}
	}
	return out
}

// pendingCount counts the order's next-charge placeholders.
func (h *harness) pendingCount(orderID snowflake.ID) int64 {
	h.t.Helper()
	n, err := h.ledger.CountPendingDebits(context.Background(), h.db, orderID)
	require.NoError(h.t, err)
	return n
}

type catalogSet struct {
	subscription catalogdomain.Subscription
	tariff       catalogdomain.Tariff
}

func (h *harness) catalog(cashbackPercent int, base int64) catalogSet {
	sub := h.fixtures.Subscription(cashbackPercent)
	return catalogSet{subscription: sub, tariff: h.fixtures.Tariff(sub.ID, pricing.PeriodMonthly, base, 0)}
}

func TestStartCycle_DebitsAndArmsNextCharge(t *testing.T) {
	h := newHarness(t, config.Config{})
	user := h.fixtures.User(1000)
	c := h.catalog(10, 300)
	require.Equal(t, int64(300), c.tariff.PricePerPeriod)

	order, result, err := h.start(user.ID, c.subscription.ID, c.tariff.ID)
	require.NoError(t, err)

	wantDue := time.Date(2026, 11, 16, 9, 0, 0, 0, time.UTC)
	assert.Equal(t, billingdomain.OutcomeCharged, result.Outcome)
	assert.Equal(t, int64(300), result.Charged)
	assert.Equal(t, int64(30), result.Cashback)
	require.NotNil(t, result.NextDue)
	assert.WithinDuration(t, wantDue, *result.NextDue, 0)

	assert.Equal(t, int64(700), h.fixtures.Balance(user.ID))
	assert.Equal(t, 1, h.fixtures.CountTransactions(user.ID, ledgerdomain.TransactionTypeDebit, ledgerdomain.StatusPaid))
	assert.Equal(t, 1, h.fixtures.CountTransactions(user.ID, ledgerdomain.TransactionTypeCashback, ledgerdomain.StatusPending))

	pending := h.pendingDebits(user.ID)
	require.Len(t, pending, 1)
	assert.Equal(t, int64(300), pending[0].Amount)
	assert.WithinDuration(t, wantDue, pending[0].TransactionDate, 0)

	stored := h.order(order.ID)
	assert.True(t, stored.PayStatus)
	require.NotNil(t, stored.DueDate)
	assert.WithinDuration(t, wantDue, *stored.DueDate, 0)
	require.NotNil(t, stored.JobHandle)
	assert.Equal(t, result.Handle.String(), *stored.JobHandle)

	require.Len(t, h.scheduler.Scheduled, 1)
	assert.Equal(t, order.ID, h.scheduler.Scheduled[0].OrderID)
	assert.WithinDuration(t, wantDue, h.scheduler.Scheduled[0].RunAt, 0)
}

func TestStartCycle_InsufficientFundsRollsBack(t *testing.T) {
	h := newHarness(t, config.Config{})
	user := h.fixtures.User(100)
	c := h.catalog(10, 300)

	order, _, err := h.start(user.ID, c.subscription.ID, c.tariff.ID)
	require.ErrorIs(t, err, userdomain.ErrInsufficientFunds)

	missing, err := h.orders.FindByID(context.Background(), h.db, order.ID)
	require.NoError(t, err)
	assert.Nil(t, missing)
	assert.Empty(t, h.fixtures.Transactions(user.ID))
	assert.Equal(t, int64(100), h.fixtures.Balance(user.ID))
	assert.Zero(t, h.scheduler.ScheduledCount())
}

func TestStartCycle_TestModeUsesInterval(t *testing.T) {
	h := newHarness(t, config.Config{BillingTestMode: true})
	user := h.fixtures.User(1000)
	c := h.catalog(0, 300)

	_, result, err := h.start(user.ID, c.subscription.ID, c.tariff.ID)
	require.NoError(t, err)
	require.NotNil(t, result.NextDue)
	assert.WithinDuration(t, testutil.Now().Add(10*time.Second), *result.NextDue, 0)
}

func TestFireCycle_ChargesAndRearms(t *testing.T) {
	h := newHarness(t, config.Config{})
	user := h.fixtures.User(1000)
	c := h.catalog(10, 300)
	order, first, err := h.start(user.ID, c.subscription.ID, c.tariff.ID)
	require.NoError(t, err)

	// fired two days late: the schedule stays anchored to the due date
	h.clock.Set(first.NextDue.Add(48 * time.Hour))
	result, err := h.engine.FireCycle(context.Background(), order.ID, first.Handle)
	require.NoError(t, err)

	wantNext := time.Date(2026, 12, 16, 9, 0, 0, 0, time.UTC)
	assert.Equal(t, billingdomain.OutcomeCharged, result.Outcome)
	assert.Equal(t, int64(300), result.Charged)
	require.NotNil(t, result.NextDue)
	assert.WithinDuration(t, wantNext, *result.NextDue, 0)
	assert.NotEqual(t, first.Handle, result.Handle)

	assert.Equal(t, int64(400), h.fixtures.Balance(user.ID))
	assert.Equal(t, 2, h.fixtures.CountTransactions(user.ID, ledgerdomain.TransactionTypeDebit, ledgerdomain.StatusPaid))
	assert.Equal(t, 2, h.fixtures.CountTransactions(user.ID, ledgerdomain.TransactionTypeCashback, ledgerdomain.StatusPending))

	pending := h.pendingDebits(user.ID)
	require.Len(t, pending, 1)
	assert.WithinDuration(t, wantNext, pending[0].TransactionDate, 0)

	stored := h.order(order.ID)
	assert.True(t, stored.PayStatus)
	assert.True(t, stored.HandleMatches(result.Handle.String()))
}

func TestFireCycle_DuplicateDeliveryChargesOnce(t *testing.T) {
	h := newHarness(t, config.Config{})
	user := h.fixtures.User(1000)
	c := h.catalog(10, 300)
	order, first, err := h.start(user.ID, c.subscription.ID, c.tariff.ID)
	require.NoError(t, err)
	h.clock.Set(*first.NextDue)

	charged, err := h.engine.FireCycle(context.Background(), order.ID, first.Handle)
	require.NoError(t, err)
	require.Equal(t, billingdomain.OutcomeCharged, charged.Outcome)

	again, err := h.engine.FireCycle(context.Background(), order.ID, first.Handle)
	require.NoError(t, err)
	assert.Equal(t, billingdomain.OutcomeSkipped, again.Outcome)
	assert.Equal(t, billingdomain.ReasonHandleMismatch, again.Reason)

	assert.Equal(t, int64(400), h.fixtures.Balance(user.ID))
	assert.Equal(t, 2, h.fixtures.CountTransactions(user.ID, ledgerdomain.TransactionTypeDebit, ledgerdomain.StatusPaid))
	assert.Len(t, h.pendingDebits(user.ID), 1)
}

func TestFireCycle_LapsesOnInsufficientFunds(t *testing.T) {
	h := newHarness(t, config.Config{})
	user := h.fixtures.User(1000)
	c := h.catalog(10, 300)
	order, first, err := h.start(user.ID, c.subscription.ID, c.tariff.ID)
	require.NoError(t, err)

	h.fixtures.SetBalance(user.ID, 100)
	h.clock.Set(*first.NextDue)
	scheduledBefore := h.scheduler.ScheduledCount()

	result, err := h.engine.FireCycle(context.Background(), order.ID, first.Handle)
	require.NoError(t, err)
	assert.Equal(t, billingdomain.OutcomeLapsed, result.Outcome)
	assert.Equal(t, billingdomain.ReasonInsufficientFunds, result.Reason)

	stored := h.order(order.ID)
	assert.False(t, stored.PayStatus)
	assert.Equal(t, orderdomain.StateLapsed, stored.State())
	require.NotNil(t, stored.DueDate)
	assert.WithinDuration(t, *first.NextDue, *stored.DueDate, 0)
	assert.Nil(t, stored.JobHandle)

	assert.Equal(t, int64(100), h.fixtures.Balance(user.ID))
	assert.Empty(t, h.pendingDebits(user.ID))
	assert.Equal(t, 1, h.fixtures.CountTransactions(user.ID, ledgerdomain.TransactionTypeDebit, ledgerdomain.StatusPaid))
	assert.Equal(t, scheduledBefore, h.scheduler.ScheduledCount())
}

func TestFireCycle_SkipsAfterStop(t *testing.T) {
	h := newHarness(t, config.Config{})
	user := h.fixtures.User(1000)
	c := h.catalog(10, 300)
	order, first, err := h.start(user.ID, c.subscription.ID, c.tariff.ID)
	require.NoError(t, err)

	var revoke jobqueue.Handle
	require.NoError(t, h.db.Transaction(func(tx *gorm.DB) error {
		locked, err := h.orders.FindByIDForUpdate(context.Background(), tx, order.ID)
		if err != nil {
			return err
		}
		revoke, err = h.engine.StopCycle(context.Background(), tx, locked)
		return err
	}))
	assert.Equal(t, first.Handle, revoke)
	h.engine.RevokeJob(context.Background(), revoke)
	assert.Equal(t, []jobqueue.Handle{first.Handle}, h.scheduler.Revoked)

	// the job was already claimed when the order was cancelled
	result, err := h.engine.FireCycle(context.Background(), order.ID, first.Handle)
	require.NoError(t, err)
	assert.Equal(t, billingdomain.OutcomeSkipped, result.Outcome)
	assert.Equal(t, billingdomain.ReasonOrderInactive, result.Reason)

	stored := h.order(order.ID)
	assert.Equal(t, orderdomain.StateCancelled, stored.State())
	assert.Equal(t, int64(700), h.fixtures.Balance(user.ID))
	assert.Empty(t, h.pendingDebits(user.ID))
}

func TestStopCycle_RejectsInactiveOrder(t *testing.T) {
	h := newHarness(t, config.Config{})
	inactive := &orderdomain.Order{ID: h.genID.Generate()}
	_, err := h.engine.StopCycle(context.Background(), h.db, inactive)
	assert.ErrorIs(t, err, orderdomain.ErrAlreadyCancelled)
}

func TestFireCycle_MissingPlaceholderIsBenign(t *testing.T) {
	h := newHarness(t, config.Config{})
	user := h.fixtures.User(1000)
	c := h.catalog(10, 300)
	order, first, err := h.start(user.ID, c.subscription.ID, c.tariff.ID)
	require.NoError(t, err)

	require.NoError(t, h.db.Exec(
		`DELETE FROM transactions WHERE order_id = ? AND status = ?`, order.ID, ledgerdomain.StatusPending,
	).Error)

	result, err := h.engine.FireCycle(context.Background(), order.ID, first.Handle)
	require.NoError(t, err)
	assert.Equal(t, billingdomain.OutcomeSkipped, result.Outcome)
	assert.Equal(t, billingdomain.ReasonPendingDebitNotFound, result.Reason)
	assert.Equal(t, int64(700), h.fixtures.Balance(user.ID))
	assert.True(t, h.order(order.ID).PayStatus)
}

func TestFireCycle_UnknownOrder(t *testing.T) {
	h := newHarness(t, config.Config{})
	result, err := h.engine.FireCycle(context.Background(), h.genID.Generate(), jobqueue.NewHandle())
	require.NoError(t, err)
	assert.Equal(t, billingdomain.OutcomeSkipped, result.Outcome)
	assert.Equal(t, billingdomain.ReasonOrderNotFound, result.Reason)
}

func TestFireCycle_ChargesChangedTariff(t *testing.T) {
	h := newHarness(t, config.Config{})
	user := h.fixtures.User(2000)
	c := h.catalog(10, 300)
	upgraded := h.fixtures.Tariff(c.subscription.ID, pricing.PeriodMonthly, 500, 0)
	order, first, err := h.start(user.ID, c.subscription.ID, c.tariff.ID)
	require.NoError(t, err)

	require.NoError(t, h.orders.UpdateTariff(context.Background(), h.db, order.ID, upgraded.ID, h.clock.Now()))
	h.clock.Set(*first.NextDue)

	result, err := h.engine.FireCycle(context.Background(), order.ID, first.Handle)
	require.NoError(t, err)
	assert.Equal(t, billingdomain.OutcomeCharged, result.Outcome)
	assert.Equal(t, int64(500), result.Charged)
	assert.Equal(t, int64(50), result.Cashback)
	assert.Equal(t, int64(2000-300-500), h.fixtures.Balance(user.ID))

	var paidAtDue []ledgerdomain.Transaction
	for _, row := range h.fixtures.Transactions(user.ID) {
		if row.Type == ledgerdomain.TransactionTypeDebit && row.Status == ledgerdomain.StatusPaid &&
			row.TransactionDate.Equal(*first.NextDue) {
			paidAtDue = append(paidAtDue, row)
		}
	}
	require.Len(t, paidAtDue, 1)
	assert.Equal(t, int64(500), paidAtDue[0].Amount)

	pending := h.pendingDebits(user.ID)
	require.Len(t, pending, 1)
	assert.Equal(t, int64(500), pending[0].Amount)
}

func TestActiveOrderHoldsExactlyOnePendingDebit(t *testing.T) {
	h := newHarness(t, config.Config{})
	user := h.fixtures.User(5000)
	c := h.catalog(10, 300)
	upgraded := h.fixtures.Tariff(c.subscription.ID, pricing.PeriodMonthly, 500, 0)
	other := h.catalog(0, 200)

	order, result, err := h.start(user.ID, c.subscription.ID, c.tariff.ID)
	require.NoError(t, err)
	second, _, err := h.start(user.ID, other.subscription.ID, other.tariff.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), h.pendingCount(order.ID))
	assert.Equal(t, int64(1), h.pendingCount(second.ID))

	for cycle := 0; cycle < 3; cycle++ {
		if cycle == 1 {
			require.NoError(t, h.orders.UpdateTariff(context.Background(), h.db, order.ID, upgraded.ID, h.clock.Now()))
		}
		h.clock.Set(*result.NextDue)
		result, err = h.engine.FireCycle(context.Background(), order.ID, result.Handle)
		require.NoError(t, err)
		require.Equal(t, billingdomain.OutcomeCharged, result.Outcome)
		assert.Equal(t, int64(1), h.pendingCount(order.ID), "cycle %d", cycle)

		// a duplicate delivery of the consumed handle leaves the placeholder alone
		_, err = h.engine.FireCycle(context.Background(), order.ID, jobqueue.NewHandle())
		require.NoError(t, err)
		assert.Equal(t, int64(1), h.pendingCount(order.ID), "cycle %d", cycle)
	}
	assert.Equal(t, int64(1), h.pendingCount(second.ID))

	h.fixtures.SetBalance(user.ID, 0)
	h.clock.Set(*result.NextDue)
	lapsed, err := h.engine.FireCycle(context.Background(), order.ID, result.Handle)
	require.NoError(t, err)
	require.Equal(t, billingdomain.OutcomeLapsed, lapsed.Outcome)
	assert.Zero(t, h.pendingCount(order.ID))
}

func TestFireCycle_QueueFailureKeepsOrderActive(t *testing.T) {
	h := newHarness(t, config.Config{})
	user := h.fixtures.User(1000)
	c := h.catalog(10, 300)
	order, first, err := h.start(user.ID, c.subscription.ID, c.tariff.ID)
	require.NoError(t, err)

	h.scheduler.SetFailSchedule(errors.New("connection refused"))
	h.clock.Set(*first.NextDue)

	_, err = h.engine.FireCycle(context.Background(), order.ID, first.Handle)
	require.Error(t, err)

	stored := h.order(order.ID)
	assert.True(t, stored.PayStatus)
	assert.True(t, stored.HandleMatches(first.Handle.String()))
	assert.Equal(t, int64(700), h.fixtures.Balance(user.ID))
	assert.Len(t, h.pendingDebits(user.ID), 1)
}
