package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/smallbiznis/subhub/internal/catalog/domain"
	"github.com/smallbiznis/subhub/internal/pricing"
	"github.com/smallbiznis/subhub/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	repo  domain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("catalog.service"),
		genID: p.GenID,
		repo:  p.Repo,
	}
}

func (s *Service) CreateSubscription(ctx context.Context, req domain.CreateSubscriptionRequest) (domain.Subscription, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Subscription{}, domain.ErrInvalidName
	}
	if err := pricing.ValidateCashbackPercent(req.CashbackPercent); err != nil {
		return domain.Subscription{}, err
	}

	now := time.Now().UTC()
	subscription := domain.Subscription{
		ID:              s.genID.Generate(),
		Name:            name,
		Slug:            slug.Make(name),
		Title:           strings.TrimSpace(req.Title),
		Description:     strings.TrimSpace(req.Description),
		CashbackPercent: req.CashbackPercent,
		PopularRate:     req.PopularRate,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.repo.InsertSubscription(ctx, s.db, &subscription); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return domain.Subscription{}, domain.ErrSlugTaken
		}
		return domain.Subscription{}, err
	}

	s.log.Info("subscription created",
		zap.String("subscription_id", subscription.ID.String()),
		zap.String("slug", subscription.Slug),
	)
	return subscription, nil
}

func (s *Service) GetSubscription(ctx context.Context, id snowflake.ID) (domain.Subscription, error) {
	item, err := s.repo.FindSubscriptionByID(ctx, s.db, id)
	if err != nil {
		return domain.Subscription{}, err
	}
	if item == nil {
		return domain.Subscription{}, domain.ErrSubscriptionNotFound
	}
	return *item, nil
}

func (s *Service) ListSubscriptions(ctx context.Context) ([]domain.Subscription, error) {
	return s.repo.ListSubscriptions(ctx, s.db)
}

func (s *Service) CreateTariff(ctx context.Context, req domain.CreateTariffRequest) (domain.Tariff, error) {
	if _, err := s.GetSubscription(ctx, req.SubscriptionID); err != nil {
		return domain.Tariff{}, err
	}

	now := time.Now().UTC()
	tariff := domain.Tariff{
		ID:              s.genID.Generate(),
		SubscriptionID:  req.SubscriptionID,
		Period:          req.Period,
		BasePrice:       req.BasePrice,
		DiscountPercent: req.DiscountPercent,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := tariff.ApplyPrices(); err != nil {
		return domain.Tariff{}, err
	}

	if err := s.repo.InsertTariff(ctx, s.db, &tariff); err != nil {
		return domain.Tariff{}, err
	}
	return tariff, nil
}

// UpdateTariff applies the changed inputs and rewrites the derived prices in
// the same statement. Running orders pick the new price up on their next charge.
func (s *Service) UpdateTariff(ctx context.Context, req domain.UpdateTariffRequest) (domain.Tariff, error) {
	var updated domain.Tariff
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		tariff, err := s.repo.FindTariffByID(ctx, tx, req.ID)
		if err != nil {
			return err
		}
		if tariff == nil {
			return domain.ErrTariffNotFound
		}

		if req.Period != nil {
			tariff.Period = *req.Period
		}
		if req.BasePrice != nil {
			tariff.BasePrice = *req.BasePrice
		}
		if req.DiscountPercent != nil {
			tariff.DiscountPercent = *req.DiscountPercent
		}
		if err := tariff.ApplyPrices(); err != nil {
			return err
		}
		tariff.UpdatedAt = time.Now().UTC()

		if err := s.repo.UpdateTariff(ctx, tx, tariff); err != nil {
			return err
		}
		updated = *tariff
		return nil
	})
	if err != nil {
		return domain.Tariff{}, err
	}
	return updated, nil
}

func (s *Service) GetTariff(ctx context.Context, id snowflake.ID) (domain.Tariff, error) {
	item, err := s.repo.FindTariffByID(ctx, s.db, id)
	if err != nil {
		return domain.Tariff{}, err
	}
	if item == nil {
		return domain.Tariff{}, domain.ErrTariffNotFound
	}
	return *item, nil
}

func (s *Service) ListTariffs(ctx context.Context, subscriptionID snowflake.ID) ([]domain.Tariff, error) {
	return s.repo.ListTariffs(ctx, s.db, subscriptionID)
}
