package domain

import (
	"context"
	"time"

	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, user *User) error
	FindByID(ctx context.Context, db *gorm.DB, id int64) (*User, error)
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, id int64) (*User, error)
	Save(ctx context.Context, db *gorm.DB, user *User) error
	UpdatePhone(ctx context.Context, db *gorm.DB, id int64, phone string) error
	UpdatePayerToken(ctx context.Context, db *gorm.DB, id int64, token string) error
	UpdateLastInteraction(ctx context.Context, db *gorm.DB, id int64, at time.Time) error
	UpdateRate(ctx context.Context, db *gorm.DB, id int64, rate string, at time.Time) error
}
