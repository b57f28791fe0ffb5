package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type CreateUserRequest struct {
	Username       string
	Email          string
	FirstName      string
	LastName       string
	InitialBalance int64
}

type Service interface {
	Create(context.Context, CreateUserRequest) (User, error)
	Get(context.Context, snowflake.ID) (User, error)
	TopUp(ctx context.Context, userID snowflake.ID, amount int64) (User, error)
}

var (
	ErrUserNotFound      = errors.New("user_not_found")
	ErrInsufficientFunds = errors.New("insufficient_funds")
	ErrInvalidAmount     = errors.New("invalid_amount")
	ErrInvalidUsername   = errors.New("invalid_username")
	ErrInvalidEmail      = errors.New("invalid_email")
	ErrUsernameTaken     = errors.New("username_taken")
)
