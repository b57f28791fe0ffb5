package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	catalogdomain "github.com/smallbiznis/subhub/internal/catalog/domain"
	"github.com/smallbiznis/subhub/internal/favorite/domain"
	"github.com/smallbiznis/subhub/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Repo    domain.Repository
	Catalog catalogdomain.Repository
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	repo    domain.Repository
	catalog catalogdomain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("favorite.service"),
		genID:   p.GenID,
		repo:    p.Repo,
		catalog: p.Catalog,
	}
}

func (s *Service) Add(ctx context.Context, userID, subscriptionID snowflake.ID) (domain.Favorite, error) {
	subscription, err := s.catalog.FindSubscriptionByID(ctx, s.db, subscriptionID)
	if err != nil {
		return domain.Favorite{}, err
	}
	if subscription == nil {
		return domain.Favorite{}, catalogdomain.ErrSubscriptionNotFound
	}

	favorite := domain.Favorite{
		ID:             s.genID.Generate(),
		UserID:         userID,
		SubscriptionID: subscriptionID,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.repo.Insert(ctx, s.db, &favorite); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return domain.Favorite{}, domain.ErrAlreadyFavorite
		}
		return domain.Favorite{}, err
	}
	return favorite, nil
}

func (s *Service) Remove(ctx context.Context, userID, subscriptionID snowflake.ID) error {
	removed, err := s.repo.Delete(ctx, s.db, userID, subscriptionID)
	if err != nil {
		return err
	}
	if !removed {
		return domain.ErrNotFavorite
	}
	return nil
}

func (s *Service) List(ctx context.Context, userID snowflake.ID) ([]domain.Favorite, error) {
	return s.repo.ListByUser(ctx, s.db, userID)
}
