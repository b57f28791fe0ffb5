package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	billingdomain "github.com/smallbiznis/subhub/internal/billing/domain"
	billingsvc "github.com/smallbiznis/subhub/internal/billing/service"
	cashbackrepo "github.com/smallbiznis/subhub/internal/cashback/repository"
	cashbacksvc "github.com/smallbiznis/subhub/internal/cashback/service"
	catalogrepo "github.com/smallbiznis/subhub/internal/catalog/repository"
	"github.com/smallbiznis/subhub/internal/clock"
	"github.com/smallbiznis/subhub/internal/config"
	"github.com/smallbiznis/subhub/internal/jobqueue"
	ledgerrepo "github.com/smallbiznis/subhub/internal/ledger/repository"
	ledgersvc "github.com/smallbiznis/subhub/internal/ledger/service"
	"github.com/smallbiznis/subhub/internal/lock"
	orderdomain "github.com/smallbiznis/subhub/internal/order/domain"
	orderrepo "github.com/smallbiznis/subhub/internal/order/repository"
	ordersvc "github.com/smallbiznis/subhub/internal/order/service"
	"github.com/smallbiznis/subhub/internal/pricing"
	"github.com/smallbiznis/subhub/internal/testutil"
	userrepo "github.com/smallbiznis/subhub/internal/user/repository"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type suite struct {
	t         *testing.T
	db        *gorm.DB
	genID     *snowflake.Node
	fixtures  *testutil.Fixtures
	clock     *clock.FakeClock
	queue     *jobqueue.MemoryQueue
	orderRepo orderdomain.Repository
	orders    orderdomain.Service
	engine    billingdomain.Engine
	sched     *Scheduler
}

type suiteOptions struct {
	appConfig config.Config
	locker    *lock.Locker
	engine    billingdomain.Engine
}

func newSuite(t *testing.T, opts suiteOptions) *suite {
	t.Helper()

	conn := testutil.NewDB(t)
	node := testutil.NewNode(t)
	clk := clock.NewFakeClock(testutil.Now())
	queue := jobqueue.NewMemoryQueue()
	billing := config.NewStaticBillingConfigHolder(config.DefaultBillingConfig())
	orders := orderrepo.Provide()
	catalog := catalogrepo.Provide()
	ledger := ledgersvc.NewLedger(ledgersvc.Params{DB: conn, Log: zap.NewNop(), GenID: node, Repo: ledgerrepo.Provide()})

	engine := billingsvc.New(billingsvc.Params{
		DB:        conn,
		Log:       zap.NewNop(),
		Config:    opts.appConfig,
		Billing:   billing,
		Clock:     clk,
		Orders:    orders,
		Catalog:   catalog,
		Ledger:    ledger,
		Balances:  userrepo.ProvideBalanceStore(),
		Scheduler: queue,
	})
	orderSvc := ordersvc.New(ordersvc.Params{
		DB:      conn,
		Log:     zap.NewNop(),
		GenID:   node,
		Repo:    orders,
		Catalog: catalog,
		Users:   userrepo.Provide(),
		Engine:  engine,
	})
	cashback := cashbacksvc.New(cashbacksvc.Params{
		DB:         conn,
		Log:        zap.NewNop(),
		GenID:      node,
		Clock:      clk,
		Repo:       cashbackrepo.Provide(),
		LedgerRepo: ledgerrepo.Provide(),
		Ledger:     ledger,
		Balances:   userrepo.ProvideBalanceStore(),
	})

	dispatchEngine := engine
	if opts.engine != nil {
		dispatchEngine = opts.engine
	}
	sched, err := New(Params{
		DB:        conn,
		Log:       zap.NewNop(),
		GenID:     node,
		Clock:     clk,
		AppConfig: opts.appConfig,
		Queue:     queue,
		Engine:    dispatchEngine,
		Orders:    orders,
		Cashback:  cashback,
		Billing:   billing,
		Locker:    opts.locker,
	})
	require.NoError(t, err)

	return &suite{
		t:         t,
		db:        conn,
		genID:     node,
		fixtures:  testutil.NewFixtures(t, conn, node),
		clock:     clk,
		queue:     queue,
		orderRepo: orders,
		orders:    orderSvc,
		engine:    engine,
		sched:     sched,
	}
}

// subscribe creates a monthly order priced 300 with 10% cashback.
func (s *suite) subscribe(balance int64) (snowflake.ID, orderdomain.Order) {
	s.t.Helper()
	user := s.fixtures.User(balance)
	sub := s.fixtures.Subscription(10)
	tariff := s.fixtures.Tariff(sub.ID, pricing.PeriodMonthly, 300, 0)

	order, err := s.orders.Create(context.Background(), orderdomain.CreateOrderRequest{
		UserID:         user.ID,
		SubscriptionID: sub.ID,
		TariffID:       tariff.ID,
		Contact: orderdomain.ContactInfo{
			Name:        "Dana",
			PhoneNumber: "+6281234567890",
			Email:       "dana@example.com",
		},
	})
	require.NoError(s.t, err)
	return user.ID, order
}

func (s *suite) order(id snowflake.ID) orderdomain.Order {
	s.t.Helper()
	order, err := s.orderRepo.FindByID(context.Background(), s.db, id)
	require.NoError(s.t, err)
	require.NotNil(s.t, order)
	return *order
}

func date(year int, month time.Month, day, hour int) time.Time {
	return time.Date(year, month, day, hour, 0, 0, 0, time.UTC)
}
