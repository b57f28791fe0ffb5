package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/subhub/internal/config"
	ledgerdomain "github.com/smallbiznis/subhub/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/subhub/internal/observability/metrics"
	"github.com/smallbiznis/subhub/internal/pricing"
	"github.com/smallbiznis/subhub/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Repo       ledgerdomain.Repository
	Billing    *config.BillingConfigHolder `optional:"true"`
	ObsMetrics *obsmetrics.Metrics         `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	repo       ledgerdomain.Repository
	billing    *config.BillingConfigHolder
	obsMetrics *obsmetrics.Metrics
}

func newService(p Params) *Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("ledger.service"),
		genID:      p.GenID,
		repo:       p.Repo,
		billing:    p.Billing,
		obsMetrics: p.ObsMetrics,
	}
}

// NewLedger provides the transactional writer used by billing and settlement.
func NewLedger(p Params) ledgerdomain.Ledger {
	return newService(p)
}

// NewService provides the read side: history and spending summary.
func NewService(p Params) ledgerdomain.Service {
	return newService(p)
}

func (s *Service) RecordDebit(
	ctx context.Context,
	tx *gorm.DB,
	userID snowflake.ID,
	orderID *snowflake.ID,
	amount int64,
	when time.Time,
	status ledgerdomain.TransactionStatus,
) (ledgerdomain.Transaction, error) {
	if status != ledgerdomain.StatusPaid && status != ledgerdomain.StatusPending {
		return ledgerdomain.Transaction{}, ledgerdomain.ErrInvalidStatus
	}
	return s.insert(ctx, tx, userID, orderID, amount, when, ledgerdomain.TransactionTypeDebit, status)
}

func (s *Service) RecordCashback(
	ctx context.Context,
	tx *gorm.DB,
	userID snowflake.ID,
	orderID *snowflake.ID,
	amount int64,
	when time.Time,
) (ledgerdomain.Transaction, error) {
	return s.insert(ctx, tx, userID, orderID, amount, when, ledgerdomain.TransactionTypeCashback, ledgerdomain.StatusPending)
}

func (s *Service) insert(
	ctx context.Context,
	tx *gorm.DB,
	userID snowflake.ID,
	orderID *snowflake.ID,
	amount int64,
	when time.Time,
	txnType ledgerdomain.TransactionType,
	status ledgerdomain.TransactionStatus,
) (ledgerdomain.Transaction, error) {
	if amount < 0 {
		return ledgerdomain.Transaction{}, ledgerdomain.ErrInvalidAmount
	}

	now := time.Now().UTC()
	txn := ledgerdomain.Transaction{
		ID:              s.genID.Generate(),
		UserID:          userID,
		OrderID:         orderID,
		Amount:          amount,
		Type:            txnType,
		Status:          status,
		TransactionDate: when.UTC(),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.repo.Insert(ctx, tx, &txn); err != nil {
		return ledgerdomain.Transaction{}, err
	}
	if s.obsMetrics != nil {
		s.obsMetrics.RecordLedgerEntry(ctx, string(txnType), string(status))
	}
	return txn, nil
}

func (s *Service) FindPendingDebit(ctx context.Context, tx *gorm.DB, orderID snowflake.ID) (ledgerdomain.Transaction, error) {
	txn, err := s.repo.FindPendingDebitForUpdate(ctx, tx, orderID)
	if err != nil {
		return ledgerdomain.Transaction{}, err
	}
	if txn == nil {
		return ledgerdomain.Transaction{}, ledgerdomain.ErrPendingDebitNotFound
	}
	return *txn, nil
}

func (s *Service) MarkPaid(ctx context.Context, tx *gorm.DB, txn ledgerdomain.Transaction, at time.Time) error {
	ok, err := s.repo.MarkPaid(ctx, tx, txn.ID, at.UTC())
	if err != nil {
		return err
	}
	if !ok {
		return ledgerdomain.ErrAlreadySettled
	}
	if s.obsMetrics != nil {
		s.obsMetrics.RecordLedgerEntry(ctx, string(txn.Type), string(ledgerdomain.StatusPaid))
	}
	return nil
}

func (s *Service) RemovePendingDebit(ctx context.Context, tx *gorm.DB, orderID snowflake.ID) (int64, error) {
	return s.repo.DeletePendingDebits(ctx, tx, orderID)
}

func (s *Service) SettleCashback(ctx context.Context, tx *gorm.DB, userID snowflake.ID, at time.Time) (int64, int, error) {
	rows, err := s.repo.ListPendingCashbackForUpdate(ctx, tx, userID)
	if err != nil {
		return 0, 0, err
	}
	if len(rows) == 0 {
		return 0, 0, nil
	}

	var total int64
	ids := make([]snowflake.ID, 0, len(rows))
	for _, row := range rows {
		total += row.Amount
		ids = append(ids, row.ID)
	}

	updated, err := s.repo.MarkCredited(ctx, tx, ids, at.UTC())
	if err != nil {
		return 0, 0, err
	}
	if updated != int64(len(ids)) {
		return 0, 0, ledgerdomain.ErrConcurrentSettlement
	}
	if s.obsMetrics != nil {
		s.obsMetrics.RecordLedgerEntry(ctx, string(ledgerdomain.TransactionTypeCashback), string(ledgerdomain.StatusCredited))
	}
	return total, len(ids), nil
}

func (s *Service) ListHistory(ctx context.Context, req ledgerdomain.ListHistoryRequest) (ledgerdomain.ListHistoryResponse, error) {
	cursor, err := pagination.DecodeCursor(req.PageToken)
	if err != nil {
		return ledgerdomain.ListHistoryResponse{}, err
	}
	limit := req.Limit()

	rows, err := s.repo.ListByUser(ctx, s.db, req.UserID, req.Filter, cursor, limit+1)
	if err != nil {
		return ledgerdomain.ListHistoryResponse{}, err
	}

	page, info, err := pagination.Page(rows, limit, func(txn ledgerdomain.Transaction) pagination.Cursor {
		return pagination.Cursor{ID: txn.ID.String(), At: txn.TransactionDate}
	})
	if err != nil {
		return ledgerdomain.ListHistoryResponse{}, err
	}
	if page == nil {
		page = []ledgerdomain.Transaction{}
	}
	return ledgerdomain.ListHistoryResponse{PageInfo: info, Transactions: page}, nil
}

// Summary reports paid debits of the current calendar month, pending debits
// falling into the next calendar month and cashback accrued in the running
// settlement window.
func (s *Service) Summary(ctx context.Context, userID snowflake.ID, now time.Time) (ledgerdomain.Summary, error) {
	now = now.UTC()
	monthStart, monthEnd := pricing.MonthBounds(now)
	nextStart, nextEnd := pricing.MonthBounds(monthEnd)
	cashbackFrom, cashbackTo := pricing.CashbackWindow(now, s.billing.Get().CashbackDay)

	current, err := s.repo.SumByUser(ctx, s.db, userID, ledgerdomain.TransactionTypeDebit,
		[]ledgerdomain.TransactionStatus{ledgerdomain.StatusPaid}, monthStart, monthEnd)
	if err != nil {
		return ledgerdomain.Summary{}, err
	}
	next, err := s.repo.SumByUser(ctx, s.db, userID, ledgerdomain.TransactionTypeDebit,
		[]ledgerdomain.TransactionStatus{ledgerdomain.StatusPending}, nextStart, nextEnd)
	if err != nil {
		return ledgerdomain.Summary{}, err
	}
	cashback, err := s.repo.SumByUser(ctx, s.db, userID, ledgerdomain.TransactionTypeCashback,
		[]ledgerdomain.TransactionStatus{ledgerdomain.StatusPending, ledgerdomain.StatusCredited}, cashbackFrom, cashbackTo)
	if err != nil {
		return ledgerdomain.Summary{}, err
	}

	return ledgerdomain.Summary{
		TotalCurrentMonth: current,
		TotalNextMonth:    next,
		TotalCashback:     cashback,
		CashbackFrom:      cashbackFrom,
		CashbackTo:        cashbackTo,
	}, nil
}
