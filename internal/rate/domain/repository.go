package domain

import (
	"context"

	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, rate *Rate) error
	FindByName(ctx context.Context, db *gorm.DB, name string) (*Rate, error)
	List(ctx context.Context, db *gorm.DB) ([]Rate, error)
	Update(ctx context.Context, db *gorm.DB, rate *Rate) error
	Delete(ctx context.Context, db *gorm.DB, name string) (int64, error)
	CountHolders(ctx context.Context, db *gorm.DB, name string) (int64, error)
	CountPending(ctx context.Context, db *gorm.DB, name string) (int64, error)
}
