package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Schedule is the billing state written by every cycle, cancel and lapse.
type Schedule struct {
	PayStatus bool
	DueDate   *time.Time
	JobHandle *string
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, order *Order) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Order, error)
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Order, error)
	ListByUser(ctx context.Context, db *gorm.DB, userID snowflake.ID) ([]Order, error)
	UpdateSchedule(ctx context.Context, db *gorm.DB, id snowflake.ID, schedule Schedule, at time.Time) error
	UpdateTariff(ctx context.Context, db *gorm.DB, id, tariffID snowflake.ID, at time.Time) error
	// ListActiveDueBefore returns active orders whose due date passed before cutoff.
	ListActiveDueBefore(ctx context.Context, db *gorm.DB, cutoff time.Time, afterID snowflake.ID, limit int) ([]Order, error)
}
