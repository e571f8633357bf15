package migration

import (
	"context"
	"errors"
	"fmt"

	"github.com/EF-corp/AgroBotTg/internal/authorization"
	paymentdomain "github.com/EF-corp/AgroBotTg/internal/payment/domain"
	promodomain "github.com/EF-corp/AgroBotTg/internal/promo/domain"
	ratedomain "github.com/EF-corp/AgroBotTg/internal/rate/domain"
	userdomain "github.com/EF-corp/AgroBotTg/internal/user/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Models lists every table owned by the service, in creation order.
func Models() []any {
	return []any{
		&ratedomain.Rate{},
		&userdomain.User{},
		&paymentdomain.PendingPayment{},
		&promodomain.Promo{},
		&promodomain.Redemption{},
	}
}

// RunMigrations creates or updates the schema so the service is usable out
// of the box on postgres, mysql and sqlite.
func RunMigrations(db *gorm.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}
	if err := db.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Seed makes sure the free rate exists and configured admins are flagged and
// linked to the admin role.
func Seed(ctx context.Context, db *gorm.DB, rates ratedomain.Service, authz authorization.Service, adminIDs []int64, log *zap.Logger) error {
	if _, err := rates.EnsureFree(ctx); err != nil {
		return fmt.Errorf("seed free rate: %w", err)
	}

	for _, id := range adminIDs {
		if id <= 0 {
			continue
		}
		if err := db.WithContext(ctx).Exec(
			`UPDATE users SET is_admin = ? WHERE id = ?`,
			true, id,
		).Error; err != nil {
			return fmt.Errorf("seed admin %d: %w", id, err)
		}
		if authz == nil {
			continue
		}
		if err := authz.GrantAdmin(ctx, id); err != nil {
			return fmt.Errorf("grant admin %d: %w", id, err)
		}
	}

	log.Info("seed complete", zap.Int("admins", len(adminIDs)))
	return nil
}
