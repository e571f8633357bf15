package repository

import (
	"context"

	"github.com/EF-corp/AgroBotTg/internal/promo/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, promo *domain.Promo) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO promos (code, rate_name, created_at) VALUES (?, ?, ?)`,
		promo.Code,
		promo.RateName,
		promo.CreatedAt,
	).Error
}

func (r *repo) FindByCode(ctx context.Context, db *gorm.DB, code string) (*domain.Promo, error) {
	var items []domain.Promo
	err := db.WithContext(ctx).Raw(
		`SELECT code, rate_name, created_at FROM promos WHERE code = ? LIMIT 1`,
		code,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	return &items[0], nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB) ([]domain.Promo, error) {
	var items []domain.Promo
	err := db.WithContext(ctx).Raw(
		`SELECT code, rate_name, created_at FROM promos ORDER BY created_at DESC, code ASC`,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) Delete(ctx context.Context, db *gorm.DB, code string) (int64, error) {
	res := db.WithContext(ctx).Exec(`DELETE FROM promos WHERE code = ?`, code)
	return res.RowsAffected, res.Error
}

func (r *repo) InsertRedemption(ctx context.Context, db *gorm.DB, redemption *domain.Redemption) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO promo_redemptions (code, user_id, redeemed_at) VALUES (?, ?, ?)`,
		redemption.Code,
		redemption.UserID,
		redemption.RedeemedAt,
	).Error
}
