package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// User owns an internal integer balance. Balance never goes negative; every
// write bumps Version.
type User struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	Username  string       `gorm:"not null;uniqueIndex" json:"username"`
	Email     string       `gorm:"not null" json:"email"`
	FirstName string       `json:"first_name"`
	LastName  string       `json:"last_name"`
	Balance   int64        `gorm:"not null;default:0" json:"balance"`
	Version   int64        `gorm:"not null;default:0" json:"-"`
	CreatedAt time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time    `gorm:"not null" json:"updated_at"`
}

func (User) TableName() string { return "users" }
