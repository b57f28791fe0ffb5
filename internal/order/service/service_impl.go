package service

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/subhub/internal/audit/domain"
	auditsvc "github.com/smallbiznis/subhub/internal/audit/service"
	billingdomain "github.com/smallbiznis/subhub/internal/billing/domain"
	"github.com/smallbiznis/subhub/internal/billing/guard"
	catalogdomain "github.com/smallbiznis/subhub/internal/catalog/domain"
	"github.com/smallbiznis/subhub/internal/jobqueue"
	obsmetrics "github.com/smallbiznis/subhub/internal/observability/metrics"
	"github.com/smallbiznis/subhub/internal/order/domain"
	userdomain "github.com/smallbiznis/subhub/internal/user/domain"
	"github.com/smallbiznis/subhub/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Repo       domain.Repository
	Catalog    catalogdomain.Repository
	Users      userdomain.Repository
	Engine     billingdomain.Engine
	Audit      auditdomain.Service `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	genID        *snowflake.Node
	repo         domain.Repository
	catalog      catalogdomain.Repository
	users        userdomain.Repository
	engine       billingdomain.Engine
	audit        auditdomain.Service
	obsMetrics   *obsmetrics.Metrics
	schedMetrics *obsmetrics.SchedulerMetrics
}

func New(p Params) domain.Service {
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("order.service"),
		genID:        p.GenID,
		repo:         p.Repo,
		catalog:      p.Catalog,
		users:        p.Users,
		engine:       p.Engine,
		audit:        p.Audit,
		obsMetrics:   p.ObsMetrics,
		schedMetrics: obsmetrics.Scheduler(),
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateOrderRequest) (order domain.Order, err error) {
	defer func() { s.recordLifecycle(ctx, "create", err) }()

	contact, err := normalizeContact(req.Contact)
	if err != nil {
		return domain.Order{}, err
	}

	user, err := s.users.FindByID(ctx, s.db, req.UserID)
	if err != nil {
		return domain.Order{}, err
	}
	if user == nil {
		return domain.Order{}, userdomain.ErrUserNotFound
	}
	subscription, err := s.catalog.FindSubscriptionByID(ctx, s.db, req.SubscriptionID)
	if err != nil {
		return domain.Order{}, err
	}
	if subscription == nil {
		return domain.Order{}, catalogdomain.ErrSubscriptionNotFound
	}
	tariff, err := s.catalog.FindTariffByID(ctx, s.db, req.TariffID)
	if err != nil {
		return domain.Order{}, err
	}
	if err := guard.EnsureTariffBelongs(tariff, subscription.ID); err != nil {
		return domain.Order{}, err
	}

	now := time.Now().UTC()
	order = domain.Order{
		ID:             s.genID.Generate(),
		UserID:         req.UserID,
		SubscriptionID: subscription.ID,
		TariffID:       tariff.ID,
		ContactName:    contact.Name,
		ContactPhone:   contact.PhoneNumber,
		ContactEmail:   contact.Email,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	var cycle billingdomain.CycleResult
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.Insert(ctx, tx, &order); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return domain.ErrOrderExists
			}
			return err
		}
		cycle, err = s.engine.StartCycle(ctx, tx, &order, billingdomain.TriggerFirst)
		return err
	})
	if err != nil {
		s.engine.RevokeJob(ctx, cycle.Handle)
		return domain.Order{}, err
	}

	s.afterCycle(ctx, order, cycle, obsmetrics.OrderStateNew, auditdomain.ActionOrderCreated, map[string]any{
		"subscription_id": order.SubscriptionID.String(),
		"tariff_id":       order.TariffID.String(),
		"contact_name":    contact.Name,
		"contact_phone":   contact.PhoneNumber,
		"contact_email":   contact.Email,
	})
	return order, nil
}

func (s *Service) Cancel(ctx context.Context, userID, orderID snowflake.ID) (order domain.Order, err error) {
	defer func() { s.recordLifecycle(ctx, "cancel", err) }()

	var handle jobqueue.Handle
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		locked, err := s.lockOwned(ctx, tx, userID, orderID)
		if err != nil {
			return err
		}
		handle, err = s.engine.StopCycle(ctx, tx, locked)
		if err != nil {
			return err
		}
		order = *locked
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}

	// a job that already fired finds no placeholder and skips
	s.engine.RevokeJob(ctx, handle)

	s.schedMetrics.IncOrderTransition(obsmetrics.OrderStateActive, obsmetrics.OrderStateCancelled)
	s.log.Info("order cancelled", zap.String("order_id", order.ID.String()))
	auditsvc.Record(ctx, s.audit, s.log, auditdomain.ActionOrderCancelled, "order", order.ID.String(), map[string]any{
		"user_id": order.UserID.String(),
	})
	return order, nil
}

func (s *Service) Resume(ctx context.Context, userID, orderID snowflake.ID) (order domain.Order, err error) {
	defer func() { s.recordLifecycle(ctx, "resume", err) }()

	var cycle billingdomain.CycleResult
	var from string
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		locked, err := s.lockOwned(ctx, tx, userID, orderID)
		if err != nil {
			return err
		}
		if err := guard.EnsureOrderCanResume(locked); err != nil {
			return err
		}
		from = transitionState(locked.State())
		cycle, err = s.engine.StartCycle(ctx, tx, locked, billingdomain.TriggerResume)
		if err != nil {
			return err
		}
		order = *locked
		return nil
	})
	if err != nil {
		s.engine.RevokeJob(ctx, cycle.Handle)
		return domain.Order{}, err
	}

	s.afterCycle(ctx, order, cycle, from, auditdomain.ActionOrderResumed, map[string]any{
		"tariff_id": order.TariffID.String(),
	})
	return order, nil
}

// ChangeTariff swaps the order's tariff. The pending charge keeps its amount;
// the next cycle charges the new tariff.
func (s *Service) ChangeTariff(ctx context.Context, req domain.ChangeTariffRequest) (order domain.Order, err error) {
	defer func() { s.recordLifecycle(ctx, "change_tariff", err) }()

	var previous snowflake.ID
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		locked, err := s.lockOwned(ctx, tx, req.UserID, req.OrderID)
		if err != nil {
			return err
		}
		if err := guard.EnsureOrderCanChangeTariff(locked); err != nil {
			return err
		}
		tariff, err := s.catalog.FindTariffByID(ctx, tx, req.TariffID)
		if err != nil {
			return err
		}
		if err := guard.EnsureTariffBelongs(tariff, locked.SubscriptionID); err != nil {
			return err
		}

		previous = locked.TariffID
		if previous != tariff.ID {
			now := time.Now().UTC()
			if err := s.repo.UpdateTariff(ctx, tx, locked.ID, tariff.ID, now); err != nil {
				return err
			}
			locked.TariffID = tariff.ID
			locked.UpdatedAt = now
		}
		order = *locked
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}
	if previous == order.TariffID {
		return order, nil
	}

	s.log.Info("order tariff changed",
		zap.String("order_id", order.ID.String()),
		zap.String("from_tariff_id", previous.String()),
		zap.String("to_tariff_id", order.TariffID.String()),
	)
	auditsvc.Record(ctx, s.audit, s.log, auditdomain.ActionOrderTariffChanged, "order", order.ID.String(), map[string]any{
		"user_id":        order.UserID.String(),
		"from_tariff_id": previous.String(),
		"to_tariff_id":   order.TariffID.String(),
	})
	return order, nil
}

func (s *Service) Get(ctx context.Context, userID, orderID snowflake.ID) (domain.Order, error) {
	order, err := s.repo.FindByID(ctx, s.db, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if order == nil || order.UserID != userID {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return *order, nil
}

func (s *Service) List(ctx context.Context, userID snowflake.ID) ([]domain.Order, error) {
	orders, err := s.repo.ListByUser(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}
	if orders == nil {
		orders = []domain.Order{}
	}
	return orders, nil
}

// lockOwned locks the order row and hides orders of other users.
func (s *Service) lockOwned(ctx context.Context, tx *gorm.DB, userID, orderID snowflake.ID) (*domain.Order, error) {
	order, err := s.repo.FindByIDForUpdate(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil || order.UserID != userID {
		return nil, domain.ErrOrderNotFound
	}
	return order, nil
}

func (s *Service) afterCycle(ctx context.Context, order domain.Order, cycle billingdomain.CycleResult, from, action string, metadata map[string]any) {
	s.obsMetrics.RecordBillingCycle(ctx, string(cycle.Trigger), string(cycle.Outcome), cycle.Reason)
	s.schedMetrics.IncOrderTransition(from, obsmetrics.OrderStateActive)

	metadata["user_id"] = order.UserID.String()
	metadata["amount"] = cycle.Charged
	metadata["due_date"] = cycle.NextDue
	auditsvc.Record(ctx, s.audit, s.log, action, "order", order.ID.String(), metadata)
}

func (s *Service) recordLifecycle(ctx context.Context, event string, err error) {
	result := "ok"
	if err != nil {
		result = "rejected"
		if errors.Is(err, userdomain.ErrInsufficientFunds) {
			s.obsMetrics.RecordBillingCycle(ctx, event, string(billingdomain.OutcomeSkipped), billingdomain.ReasonInsufficientFunds)
		}
	}
	s.obsMetrics.RecordLifecycleEvent(ctx, event, result)
}

func transitionState(state domain.State) string {
	switch state {
	case domain.StateActive:
		return obsmetrics.OrderStateActive
	case domain.StateLapsed:
		return obsmetrics.OrderStateLapsed
	default:
		return obsmetrics.OrderStateCancelled
	}
}

func normalizeContact(contact domain.ContactInfo) (domain.ContactInfo, error) {
	out := domain.ContactInfo{
		Name:        strings.TrimSpace(contact.Name),
		PhoneNumber: strings.TrimSpace(contact.PhoneNumber),
		Email:       strings.TrimSpace(contact.Email),
	}
	if out.Name == "" || out.PhoneNumber == "" {
		return domain.ContactInfo{}, domain.ErrInvalidContact
	}
	if out.Email != "" {
		if _, err := mail.ParseAddress(out.Email); err != nil {
			return domain.ContactInfo{}, domain.ErrInvalidContact
		}
	}
	return out, nil
}
