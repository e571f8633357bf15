package domain

import (
	"context"

	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, promo *Promo) error
	FindByCode(ctx context.Context, db *gorm.DB, code string) (*Promo, error)
	List(ctx context.Context, db *gorm.DB) ([]Promo, error)
	Delete(ctx context.Context, db *gorm.DB, code string) (int64, error)
	InsertRedemption(ctx context.Context, db *gorm.DB, redemption *Redemption) error
}
