package repository

import (
	"context"
	"time"

	"github.com/EF-corp/AgroBotTg/internal/payment/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, payment *domain.PendingPayment) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO pending_payments (
			user_id, reg_pay_num, order_id, amount, rate_name, kind, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		payment.UserID,
		payment.RegPayNum,
		payment.OrderID,
		payment.Amount,
		payment.RateName,
		payment.Kind,
		payment.CreatedAt,
	).Error
}

func (r *repo) FindByUser(ctx context.Context, db *gorm.DB, userID int64) (*domain.PendingPayment, error) {
	return r.findOne(ctx, db, `user_id = ?`, userID)
}

func (r *repo) FindByRegPayNum(ctx context.Context, db *gorm.DB, regPayNum string) (*domain.PendingPayment, error) {
	return r.findOne(ctx, db, `reg_pay_num = ?`, regPayNum)
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, where string, arg any) (*domain.PendingPayment, error) {
	var items []domain.PendingPayment
	err := db.WithContext(ctx).Raw(
		`SELECT user_id, reg_pay_num, order_id, amount, rate_name, kind, created_at
		 FROM pending_payments
		 WHERE `+where+`
		 LIMIT 1`,
		arg,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	return &items[0], nil
}

// DeleteByRegPayNum reports how many rows were removed. Exactly one caller
// sees 1 for a given charge.
func (r *repo) DeleteByRegPayNum(ctx context.Context, db *gorm.DB, regPayNum string) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`DELETE FROM pending_payments WHERE reg_pay_num = ?`,
		regPayNum,
	)
	return res.RowsAffected, res.Error
}

func (r *repo) DeleteByUser(ctx context.Context, db *gorm.DB, userID int64) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`DELETE FROM pending_payments WHERE user_id = ?`,
		userID,
	)
	return res.RowsAffected, res.Error
}

func (r *repo) ListOlderThan(ctx context.Context, db *gorm.DB, before time.Time, limit int) ([]domain.PendingPayment, error) {
	if limit <= 0 {
		limit = 100
	}
	var items []domain.PendingPayment
	err := db.WithContext(ctx).Raw(
		`SELECT user_id, reg_pay_num, order_id, amount, rate_name, kind, created_at
		 FROM pending_payments
		 WHERE created_at < ?
		 ORDER BY created_at ASC
		 LIMIT ?`,
		before,
		limit,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
