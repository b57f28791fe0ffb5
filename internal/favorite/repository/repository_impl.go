package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	favoritedomain "github.com/smallbiznis/subhub/internal/favorite/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() favoritedomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, favorite *favoritedomain.Favorite) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO favorites (id, user_id, subscription_id, created_at) VALUES (?, ?, ?, ?)`,
		favorite.ID,
		favorite.UserID,
		favorite.SubscriptionID,
		favorite.CreatedAt,
	).Error
}

func (r *repo) Delete(ctx context.Context, db *gorm.DB, userID, subscriptionID snowflake.ID) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`DELETE FROM favorites WHERE user_id = ? AND subscription_id = ?`,
		userID,
		subscriptionID,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) ListByUser(ctx context.Context, db *gorm.DB, userID snowflake.ID) ([]favoritedomain.Favorite, error) {
	var favorites []favoritedomain.Favorite
	err := db.WithContext(ctx).Raw(
		`SELECT id, user_id, subscription_id, created_at
		 FROM favorites WHERE user_id = ? ORDER BY created_at DESC, id DESC`,
		userID,
	).Scan(&favorites).Error
	if err != nil {
		return nil, err
	}
	return favorites, nil
}
