package repository

import (
	"context"
	"time"

	"github.com/EF-corp/AgroBotTg/internal/user/domain"
	"github.com/EF-corp/AgroBotTg/pkg/db"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, conn *gorm.DB, user *domain.User) error {
	return conn.WithContext(ctx).Create(user).Error
}

func (r *repo) FindByID(ctx context.Context, conn *gorm.DB, id int64) (*domain.User, error) {
	var user domain.User
	err := conn.WithContext(ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&user).Error
	if err != nil {
		return nil, err
	}
	if user.ID == 0 {
		return nil, nil
	}
	return &user, nil
}

func (r *repo) FindByIDForUpdate(ctx context.Context, conn *gorm.DB, id int64) (*domain.User, error) {
	var user domain.User
	err := db.ForUpdate(conn.WithContext(ctx)).
		Where("id = ?", id).
		Limit(1).
		Find(&user).Error
	if err != nil {
		return nil, err
	}
	if user.ID == 0 {
		return nil, nil
	}
	return &user, nil
}

func (r *repo) Save(ctx context.Context, conn *gorm.DB, user *domain.User) error {
	return conn.WithContext(ctx).Save(user).Error
}

func (r *repo) UpdatePhone(ctx context.Context, conn *gorm.DB, id int64, phone string) error {
	return r.exec(ctx, conn, `UPDATE users SET phone = ? WHERE id = ?`, phone, id)
}

func (r *repo) UpdatePayerToken(ctx context.Context, conn *gorm.DB, id int64, token string) error {
	return r.exec(ctx, conn, `UPDATE users SET payer_token = ? WHERE id = ?`, token, id)
}

func (r *repo) UpdateLastInteraction(ctx context.Context, conn *gorm.DB, id int64, at time.Time) error {
	return r.exec(ctx, conn, `UPDATE users SET last_interaction = ? WHERE id = ?`, at, id)
}

func (r *repo) UpdateRate(ctx context.Context, conn *gorm.DB, id int64, rate string, at time.Time) error {
	return r.exec(ctx, conn, `UPDATE users SET rate = ?, last_update = ? WHERE id = ?`, rate, at, id)
}

func (r *repo) exec(ctx context.Context, conn *gorm.DB, query string, args ...any) error {
	result := conn.WithContext(ctx).Exec(query, args...)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}
