package domain

import (
	"context"
	"errors"
)

type EnsureUserRequest struct {
	ID        int64
	ChatID    int64
	Username  string
	FirstName string
	LastName  string
}

type Service interface {
	Ensure(ctx context.Context, req EnsureUserRequest) (User, bool, error)
	Get(ctx context.Context, id int64) (User, error)
	SetPhone(ctx context.Context, id int64, phone string) error
}

var (
	ErrInvalidID    = errors.New("invalid_id")
	ErrInvalidPhone = errors.New("invalid_phone")
	ErrUserNotFound = errors.New("user_not_found")
)
