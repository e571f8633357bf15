package repository

import (
	"context"

	"github.com/EF-corp/AgroBotTg/internal/rate/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, rate *domain.Rate) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO rates (name, type, n_tokens, n_transcribed_seconds, n_generated_seconds, models, price, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rate.Name,
		rate.Type,
		rate.NTokens,
		rate.NTranscribedSeconds,
		rate.NGeneratedSeconds,
		rate.Models,
		rate.Price,
		rate.CreatedAt,
		rate.UpdatedAt,
	).Error
}

func (r *repo) FindByName(ctx context.Context, db *gorm.DB, name string) (*domain.Rate, error) {
	var rate domain.Rate
	err := db.WithContext(ctx).Raw(
		`SELECT name, type, n_tokens, n_transcribed_seconds, n_generated_seconds, models, price, created_at, updated_at
		 FROM rates WHERE name = ?`,
		name,
	).Scan(&rate).Error
	if err != nil {
		return nil, err
	}
	if rate.Name == "" {
		return nil, nil
	}
	return &rate, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB) ([]domain.Rate, error) {
	var rates []domain.Rate
	err := db.WithContext(ctx).
		Model(&domain.Rate{}).
		Order("price asc, name asc").
		Find(&rates).Error
	if err != nil {
		return nil, err
	}
	return rates, nil
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, rate *domain.Rate) error {
	return db.WithContext(ctx).Exec(
		`UPDATE rates
		 SET type = ?, n_tokens = ?, n_transcribed_seconds = ?, n_generated_seconds = ?, models = ?, price = ?, updated_at = ?
		 WHERE name = ?`,
		rate.Type,
		rate.NTokens,
		rate.NTranscribedSeconds,
		rate.NGeneratedSeconds,
		rate.Models,
		rate.Price,
		rate.UpdatedAt,
		rate.Name,
	).Error
}

func (r *repo) Delete(ctx context.Context, db *gorm.DB, name string) (int64, error) {
	result := db.WithContext(ctx).Exec(`DELETE FROM rates WHERE name = ?`, name)
	return result.RowsAffected, result.Error
}

func (r *repo) CountHolders(ctx context.Context, db *gorm.DB, name string) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Raw(`SELECT COUNT(*) FROM users WHERE rate = ?`, name).Scan(&count).Error
	return count, err
}

func (r *repo) CountPending(ctx context.Context, db *gorm.DB, name string) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Raw(`SELECT COUNT(*) FROM pending_payments WHERE rate_name = ?`, name).Scan(&count).Error
	return count, err
}
