package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/subhub/internal/audit/domain"
	auditsvc "github.com/smallbiznis/subhub/internal/audit/service"
	"github.com/smallbiznis/subhub/internal/cashback/domain"
	"github.com/smallbiznis/subhub/internal/clock"
	ledgerdomain "github.com/smallbiznis/subhub/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/subhub/internal/observability/metrics"
	"github.com/smallbiznis/subhub/internal/observability/tracing"
	userdomain "github.com/smallbiznis/subhub/internal/user/domain"
	"github.com/smallbiznis/subhub/pkg/db"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	userPageSize = 200
	jobName      = "cashback_settlement"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       domain.Repository
	LedgerRepo ledgerdomain.Repository
	Ledger     ledgerdomain.Ledger
	Balances   userdomain.BalanceStore
	Audit      auditdomain.Service `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	genID        *snowflake.Node
	clock        clock.Clock
	repo         domain.Repository
	ledgerRepo   ledgerdomain.Repository
	ledger       ledgerdomain.Ledger
	balances     userdomain.BalanceStore
	audit        auditdomain.Service
	obsMetrics   *obsmetrics.Metrics
	schedMetrics *obsmetrics.SchedulerMetrics
}

func New(p Params) domain.Service {
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("cashback.settlement"),
		genID:        p.GenID,
		clock:        p.Clock,
		repo:         p.Repo,
		ledgerRepo:   p.LedgerRepo,
		ledger:       p.Ledger,
		balances:     p.Balances,
		audit:        p.Audit,
		obsMetrics:   p.ObsMetrics,
		schedMetrics: obsmetrics.Scheduler(),
	}
}

func (s *Service) Settled(ctx context.Context, periodKey string) (bool, error) {
	run, err := s.repo.FindRunByPeriodKey(ctx, s.db, periodKey)
	if err != nil {
		return false, err
	}
	return run != nil && run.Status == domain.RunStatusCompleted, nil
}

func (s *Service) Settle(ctx context.Context, periodKey string) (result domain.Result, err error) {
	periodKey = strings.TrimSpace(periodKey)
	if periodKey == "" {
		return domain.Result{}, domain.ErrInvalidPeriodKey
	}

	ctx, span := tracing.Start(ctx, "subhub/cashback", "cashback.settle", attribute.String("period_key", periodKey))
	defer func() { tracing.End(span, err) }()

	run, resumed, err := s.openRun(ctx, periodKey)
	if err != nil {
		return domain.Result{}, err
	}

	// users settled by an interrupted attempt have no pending rows left, so
	// carrying their counters over does not count them twice
	result = domain.Result{
		RunID:          run.ID,
		PeriodKey:      periodKey,
		UsersSettled:   run.UsersSettled,
		AmountCredited: run.AmountCredited,
	}
	log := s.log.With(zap.String("period_key", periodKey), zap.String("run_id", run.ID.String()))
	if resumed {
		log.Info("resuming interrupted cashback settlement",
			zap.Int("users_settled", run.UsersSettled),
			zap.Int64("amount_credited", run.AmountCredited),
		)
	}

	var after snowflake.ID
	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		users, err := s.ledgerRepo.ListUsersWithPendingCashback(ctx, s.db, after, userPageSize)
		if err != nil {
			return result, err
		}
		if len(users) == 0 {
			break
		}

		for _, userID := range users {
			settled, err := s.SettleUser(ctx, userID)
			if err != nil {
				// a failed user keeps its pending rows for the next run
				result.UsersFailed++
				result.Failures = append(result.Failures, settled)
				s.schedMetrics.IncBillingCycleError(obsmetrics.CycleStageSettlement, err)
				log.Warn("cashback settlement failed for user",
					zap.String("user_id", userID.String()),
					zap.Error(err),
				)
				continue
			}
			if settled.Rows == 0 {
				continue
			}
			result.UsersSettled++
			result.AmountCredited += settled.Amount
		}
		after = users[len(users)-1]

		run.UsersSettled = result.UsersSettled
		run.UsersFailed = result.UsersFailed
		run.AmountCredited = result.AmountCredited
		run.UpdatedAt = s.clock.Now().UTC()
		if err := s.repo.UpdateRun(ctx, s.db, run); err != nil {
			return result, err
		}
	}

	finished := s.clock.Now().UTC()
	run.Status = domain.RunStatusCompleted
	run.UsersSettled = result.UsersSettled
	run.UsersFailed = result.UsersFailed
	run.AmountCredited = result.AmountCredited
	run.FinishedAt = &finished
	run.UpdatedAt = finished
	if err := s.repo.UpdateRun(ctx, s.db, run); err != nil {
		return result, err
	}

	s.schedMetrics.AddBatchProcessed(jobName, "users", result.UsersSettled)
	log.Info("cashback settlement completed",
		zap.Int("users_settled", result.UsersSettled),
		zap.Int("users_failed", result.UsersFailed),
		zap.Int64("amount_credited", result.AmountCredited),
	)
	return result, nil
}

// openRun inserts the RUNNING row of periodKey, or returns the existing one
// when an earlier attempt stopped before completing it.
func (s *Service) openRun(ctx context.Context, periodKey string) (*domain.SettlementRun, bool, error) {
	now := s.clock.Now().UTC()
	run := &domain.SettlementRun{
		ID:        s.genID.Generate(),
		PeriodKey: periodKey,
		Status:    domain.RunStatusRunning,
		StartedAt: now,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := s.repo.InsertRun(ctx, s.db, run)
	if err == nil {
		return run, false, nil
	}
	if !db.IsDuplicateKeyErr(err) {
		return nil, false, err
	}

	existing, err := s.repo.FindRunByPeriodKey(ctx, s.db, periodKey)
	if err != nil {
		return nil, false, err
	}
	if existing == nil || existing.Status == domain.RunStatusCompleted {
		return nil, false, domain.ErrAlreadySettled
	}
	return existing, true, nil
}

// SettleUser credits all pending cashback of one user in one transaction.
func (s *Service) SettleUser(ctx context.Context, userID snowflake.ID) (domain.UserSettlement, error) {
	settlement := domain.UserSettlement{UserID: userID}
	now := s.clock.Now().UTC()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		amount, rows, err := s.ledger.SettleCashback(ctx, tx, userID, now)
		if err != nil {
			return err
		}
		if rows == 0 {
			return nil
		}
		if _, err := s.balances.Credit(ctx, tx, userID, amount, now); err != nil {
			return err
		}
		settlement.Amount = amount
		settlement.Rows = rows
		return nil
	})
	if err != nil {
		settlement.Amount, settlement.Rows = 0, 0
		settlement.Err = err
		return settlement, err
	}
	if settlement.Rows == 0 {
		return settlement, nil
	}

	s.obsMetrics.RecordCashbackCredited(ctx, settlement.Amount)
	s.obsMetrics.RecordBalanceMovement(ctx, "credit", settlement.Amount)
	auditsvc.Record(ctx, s.audit, s.log, auditdomain.ActionCashbackSettled, "user", userID.String(), map[string]any{
		"amount": settlement.Amount,
		"rows":   settlement.Rows,
	})
	return settlement, nil
}

// IsAlreadySettled reports the duplicate-run error of Settle.
func IsAlreadySettled(err error) bool {
	return errors.Is(err, domain.ErrAlreadySettled)
}
