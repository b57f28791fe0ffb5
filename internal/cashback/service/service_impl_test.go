package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	cashbackdomain "github.com/smallbiznis/subhub/internal/cashback/domain"
	cashbackrepo "github.com/smallbiznis/subhub/internal/cashback/repository"
	cashbacksvc "github.com/smallbiznis/subhub/internal/cashback/service"
	"github.com/smallbiznis/subhub/internal/clock"
	ledgerdomain "github.com/smallbiznis/subhub/internal/ledger/domain"
	ledgerrepo "github.com/smallbiznis/subhub/internal/ledger/repository"
	ledgersvc "github.com/smallbiznis/subhub/internal/ledger/service"
	"github.com/smallbiznis/subhub/internal/testutil"
	userdomain "github.com/smallbiznis/subhub/internal/user/domain"
	userrepo "github.com/smallbiznis/subhub/internal/user/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var errBalanceUnavailable = errors.New("balance unavailable")

// failingBalances rejects credits for one user.
type failingBalances struct {
	userdomain.BalanceStore
	failFor snowflake.ID
}

func (b *failingBalances) Credit(ctx context.Context, tx *gorm.DB, userID snowflake.ID, amount int64, at time.Time) (int64, error) {
	if userID == b.failFor {
		return 0, errBalanceUnavailable
	}
	return b.BalanceStore.Credit(ctx, tx, userID, amount, at)
}

type harness struct {
	db       *gorm.DB
	fixtures *testutil.Fixtures
	ledger   ledgerdomain.Ledger
	balances *failingBalances
	clock    *clock.FakeClock
	svc      cashbackdomain.Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	conn := testutil.NewDB(t)
	node := testutil.NewNode(t)
	clk := clock.NewFakeClock(testutil.Now())

	ledger := ledgersvc.NewLedger(ledgersvc.Params{
		DB:    conn,
		Log:   zap.NewNop(),
		GenID: node,
		Repo:  ledgerrepo.Provide(),
	})
	balances := &failingBalances{BalanceStore: userrepo.ProvideBalanceStore()}

	svc := cashbacksvc.New(cashbacksvc.Params{
		DB:         conn,
		Log:        zap.NewNop(),
		GenID:      node,
		Clock:      clk,
		Repo:       cashbackrepo.Provide(),
		LedgerRepo: ledgerrepo.Provide(),
		Ledger:     ledger,
		Balances:   balances,
	})

	return &harness{
		db:       conn,
		fixtures: testutil.NewFixtures(t, conn, node),
		ledger:   ledger,
		balances: balances,
		clock:    clk,
		svc:      svc,
	}
}

func (h *harness) accrue(t *testing.T, userID snowflake.ID, amounts ...int64) {
	t.Helper()
	for _, amount := range amounts {
		_, err := h.ledger.RecordCashback(context.Background(), h.db, userID, nil, amount, h.clock.Now())
		require.NoError(t, err)
	}
}

func TestSettle_CreditsPendingCashback(t *testing.T) {
	h := newHarness(t)
	user := h.fixtures.User(100)
	h.accrue(t, user.ID, 30, 45)

	result, err := h.svc.Settle(context.Background(), "2026-10")
	require.NoError(t, err)

	assert.Equal(t, 1, result.UsersSettled)
	assert.Equal(t, 0, result.UsersFailed)
	assert.Equal(t, int64(75), result.AmountCredited)
	assert.Equal(t, int64(175), h.fixtures.Balance(user.ID))
	assert.Equal(t, 2, h.fixtures.CountTransactions(user.ID, ledgerdomain.TransactionTypeCashback, ledgerdomain.StatusCredited))
	assert.Zero(t, h.fixtures.CountTransactions(user.ID, ledgerdomain.TransactionTypeCashback, ledgerdomain.StatusPending))
}

func TestSettle_IsolatesFailingUser(t *testing.T) {
	h := newHarness(t)
	good := h.fixtures.User(0)
	bad := h.fixtures.User(0)
	h.accrue(t, good.ID, 30, 45)
	h.accrue(t, bad.ID, 20)
	h.balances.failFor = bad.ID

	result, err := h.svc.Settle(context.Background(), "2026-10")
	require.NoError(t, err)

	assert.Equal(t, 1, result.UsersSettled)
	assert.Equal(t, 1, result.UsersFailed)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, bad.ID, result.Failures[0].UserID)
	assert.ErrorIs(t, result.Failures[0].Err, errBalanceUnavailable)

	assert.Equal(t, int64(75), h.fixtures.Balance(good.ID))
	assert.Zero(t, h.fixtures.Balance(bad.ID))
	assert.Equal(t, 1, h.fixtures.CountTransactions(bad.ID, ledgerdomain.TransactionTypeCashback, ledgerdomain.StatusPending))
}

func TestSettle_ZeroAmountRowsAreCredited(t *testing.T) {
	h := newHarness(t)
	user := h.fixtures.User(50)
	h.accrue(t, user.ID, 0)

	result, err := h.svc.Settle(context.Background(), "2026-10")
	require.NoError(t, err)
	assert.Equal(t, 1, result.UsersSettled)
	assert.Equal(t, int64(50), h.fixtures.Balance(user.ID))
	assert.Equal(t, 1, h.fixtures.CountTransactions(user.ID, ledgerdomain.TransactionTypeCashback, ledgerdomain.StatusCredited))
}

func TestSettle_PeriodRunsOnce(t *testing.T) {
	h := newHarness(t)
	user := h.fixtures.User(0)
	h.accrue(t, user.ID, 10)

	_, err := h.svc.Settle(context.Background(), "2026-10")
	require.NoError(t, err)

	h.accrue(t, user.ID, 10)
	_, err = h.svc.Settle(context.Background(), "2026-10")
	assert.ErrorIs(t, err, cashbackdomain.ErrAlreadySettled)
	assert.True(t, cashbacksvc.IsAlreadySettled(err))
	assert.Equal(t, int64(10), h.fixtures.Balance(user.ID))

	settled, err := h.svc.Settled(context.Background(), "2026-10")
	require.NoError(t, err)
	assert.True(t, settled)

	settled, err = h.svc.Settled(context.Background(), "2026-11")
	require.NoError(t, err)
	assert.False(t, settled)
}

func TestSettle_FinishesInterruptedRun(t *testing.T) {
	h := newHarness(t)
	reached := h.fixtures.User(0)
	pending := h.fixtures.User(0)
	h.accrue(t, pending.ID, 45)

	// an attempt that credited one user and stopped before completing
	node := testutil.NewNode(t)
	now := h.clock.Now()
	interrupted := cashbackdomain.SettlementRun{
		ID:             node.Generate(),
		PeriodKey:      "2026-10",
		Status:         cashbackdomain.RunStatusRunning,
		UsersSettled:   1,
		AmountCredited: 30,
		StartedAt:      now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	require.NoError(t, cashbackrepo.Provide().InsertRun(context.Background(), h.db, &interrupted))

	settled, err := h.svc.Settled(context.Background(), "2026-10")
	require.NoError(t, err)
	assert.False(t, settled)

	result, err := h.svc.Settle(context.Background(), "2026-10")
	require.NoError(t, err)
	assert.Equal(t, interrupted.ID, result.RunID)
	assert.Equal(t, 2, result.UsersSettled)
	assert.Equal(t, int64(75), result.AmountCredited)
	assert.Equal(t, int64(45), h.fixtures.Balance(pending.ID))
	assert.Zero(t, h.fixtures.Balance(reached.ID))
	assert.Equal(t, 1, h.fixtures.CountTransactions(pending.ID, ledgerdomain.TransactionTypeCashback, ledgerdomain.StatusCredited))

	run, err := cashbackrepo.Provide().FindRunByPeriodKey(context.Background(), h.db, "2026-10")
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, cashbackdomain.RunStatusCompleted, run.Status)
	assert.Equal(t, int64(75), run.AmountCredited)
	require.NotNil(t, run.FinishedAt)

	settled, err = h.svc.Settled(context.Background(), "2026-10")
	require.NoError(t, err)
	assert.True(t, settled)

	_, err = h.svc.Settle(context.Background(), "2026-10")
	assert.ErrorIs(t, err, cashbackdomain.ErrAlreadySettled)
}

func TestSettle_RejectsEmptyPeriodKey(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.Settle(context.Background(), "  ")
	assert.ErrorIs(t, err, cashbackdomain.ErrInvalidPeriodKey)
}

func TestSettle_NoPendingCashback(t *testing.T) {
	h := newHarness(t)
	user := h.fixtures.User(10)

	result, err := h.svc.Settle(context.Background(), "2026-10")
	require.NoError(t, err)
	assert.Zero(t, result.UsersSettled)
	assert.Zero(t, result.AmountCredited)
	assert.Equal(t, int64(10), h.fixtures.Balance(user.ID))
}

func TestSettleUser(t *testing.T) {
	h := newHarness(t)
	user := h.fixtures.User(0)
	h.accrue(t, user.ID, 5, 7)

	settled, err := h.svc.SettleUser(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(12), settled.Amount)
	assert.Equal(t, 2, settled.Rows)

	settled, err = h.svc.SettleUser(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Zero(t, settled.Rows)
	assert.Equal(t, int64(12), h.fixtures.Balance(user.ID))
}

func TestPeriodKeys(t *testing.T) {
	at := time.Date(2026, 10, 25, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "2026-10", cashbackdomain.PeriodKey(at))
	assert.Equal(t, "manual-20261025T000000Z", cashbackdomain.ManualPeriodKey(at))
	assert.Equal(t, "interval-20261025T001000Z",
		cashbackdomain.IntervalPeriodKey(at.Add(12*time.Minute), 10*time.Minute))
}
