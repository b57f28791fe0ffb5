package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/subhub/internal/user/domain"
	"github.com/smallbiznis/subhub/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Repo     domain.Repository
	Balances domain.BalanceStore
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	repo     domain.Repository
	balances domain.BalanceStore
}

func New(p Params) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("user.service"),
		genID:    p.GenID,
		repo:     p.Repo,
		balances: p.Balances,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateUserRequest) (domain.User, error) {
	username := strings.TrimSpace(req.Username)
	if username == "" {
		return domain.User{}, domain.ErrInvalidUsername
	}
	email := strings.TrimSpace(req.Email)
	if email == "" || !strings.Contains(email, "@") {
		return domain.User{}, domain.ErrInvalidEmail
	}
	if req.InitialBalance < 0 {
		return domain.User{}, domain.ErrInvalidAmount
	}

	now := time.Now().UTC()
	user := domain.User{
		ID:        s.genID.Generate(),
		Username:  username,
		Email:     email,
		FirstName: strings.TrimSpace(req.FirstName),
		LastName:  strings.TrimSpace(req.LastName),
		Balance:   req.InitialBalance,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Insert(ctx, s.db, &user); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return domain.User{}, domain.ErrUsernameTaken
		}
		return domain.User{}, err
	}
	return user, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (domain.User, error) {
	user, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return domain.User{}, err
	}
	if user == nil {
		return domain.User{}, domain.ErrUserNotFound
	}
	return *user, nil
}

// TopUp credits the balance outside of any billing cycle. Payment gateways are
// not integrated, so this is how funds enter the system.
func (s *Service) TopUp(ctx context.Context, userID snowflake.ID, amount int64) (domain.User, error) {
	if amount <= 0 {
		return domain.User{}, domain.ErrInvalidAmount
	}

	var user domain.User
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.balances.Credit(ctx, tx, userID, amount, time.Now().UTC()); err != nil {
			return err
		}
		found, err := s.repo.FindByID(ctx, tx, userID)
		if err != nil {
			return err
		}
		user = *found
		return nil
	})
	if err != nil {
		return domain.User{}, err
	}

	s.log.Info("balance topped up",
		zap.String("user_id", userID.String()),
		zap.Int64("amount", amount),
		zap.Int64("balance", user.Balance),
	)
	return user, nil
}
