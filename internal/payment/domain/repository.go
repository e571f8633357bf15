package domain

import (
	"context"
	"time"

	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, payment *PendingPayment) error
	FindByUser(ctx context.Context, db *gorm.DB, userID int64) (*PendingPayment, error)
	FindByRegPayNum(ctx context.Context, db *gorm.DB, regPayNum string) (*PendingPayment, error)
	DeleteByRegPayNum(ctx context.Context, db *gorm.DB, regPayNum string) (int64, error)
	DeleteByUser(ctx context.Context, db *gorm.DB, userID int64) (int64, error)
	ListOlderThan(ctx context.Context, db *gorm.DB, before time.Time, limit int) ([]PendingPayment, error)
}
