package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Favorite struct {
	ID             snowflake.ID `gorm:"primaryKey" json:"id"`
	UserID         snowflake.ID `gorm:"not null;uniqueIndex:ux_favorites_user_subscription,priority:1" json:"user_id"`
	SubscriptionID snowflake.ID `gorm:"not null;uniqueIndex:ux_favorites_user_subscription,priority:2" json:"subscription_id"`
	CreatedAt      time.Time    `gorm:"not null" json:"created_at"`
}

func (Favorite) TableName() string { return "favorites" }

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, favorite *Favorite) error
	Delete(ctx context.Context, db *gorm.DB, userID, subscriptionID snowflake.ID) (bool, error)
	ListByUser(ctx context.Context, db *gorm.DB, userID snowflake.ID) ([]Favorite, error)
}

type Service interface {
	Add(ctx context.Context, userID, subscriptionID snowflake.ID) (Favorite, error)
	Remove(ctx context.Context, userID, subscriptionID snowflake.ID) error
	List(ctx context.Context, userID snowflake.ID) ([]Favorite, error)
}

var (
	ErrAlreadyFavorite = errors.New("already_favorite")
	ErrNotFavorite     = errors.New("not_favorite")
)
