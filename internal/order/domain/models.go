package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// State is derived from PayStatus and DueDate; it is not stored.
type State string

const (
	StateActive    State = "active"
	StateLapsed    State = "lapsed"
	StateCancelled State = "cancelled"
)

type ContactInfo struct {
	Name        string `json:"name"`
	PhoneNumber string `json:"phone_number"`
	Email       string `json:"email"`
}

// Order binds a user to one subscription under one tariff. At most one order
// exists per (user, subscription).
type Order struct {
	ID             snowflake.ID `gorm:"primaryKey" json:"id"`
	UserID         snowflake.ID `gorm:"not null;uniqueIndex:ux_orders_user_subscription,priority:1" json:"user_id"`
	SubscriptionID snowflake.ID `gorm:"not null;uniqueIndex:ux_orders_user_subscription,priority:2" json:"subscription_id"`
	TariffID       snowflake.ID `gorm:"not null;index" json:"tariff_id"`
	ContactName    string       `gorm:"not null" json:"contact_name"`
	ContactPhone   string       `gorm:"not null" json:"contact_phone"`
	ContactEmail   string       `gorm:"not null" json:"contact_email"`
	DueDate        *time.Time   `gorm:"index" json:"due_date,omitempty"`
	PayStatus      bool         `gorm:"not null;default:false" json:"pay_status"`
	JobHandle      *string      `json:"-"`
	CreatedAt      time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt      time.Time    `gorm:"not null" json:"updated_at"`
}

func (Order) TableName() string { return "orders" }

func (o Order) State() State {
	switch {
	case o.PayStatus:
		return StateActive
	case o.DueDate != nil:
		return StateLapsed
	default:
		return StateCancelled
	}
}

func (o Order) Contact() ContactInfo {
	return ContactInfo{Name: o.ContactName, PhoneNumber: o.ContactPhone, Email: o.ContactEmail}
}

// HandleMatches reports whether handle is the job the order currently waits on.
func (o Order) HandleMatches(handle string) bool {
	return o.JobHandle != nil && *o.JobHandle == handle
}
