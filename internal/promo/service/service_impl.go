package service

import (
	"context"
	"errors"
	"strings"

	"github.com/EF-corp/AgroBotTg/internal/clock"
	entitlementdomain "github.com/EF-corp/AgroBotTg/internal/entitlement/domain"
	"github.com/EF-corp/AgroBotTg/internal/promo/domain"
	ratedomain "github.com/EF-corp/AgroBotTg/internal/rate/domain"
	userdomain "github.com/EF-corp/AgroBotTg/internal/user/domain"
	"github.com/EF-corp/AgroBotTg/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	Clock  clock.Clock
	Repo   domain.Repository
	Rates  ratedomain.Service
	Users  userdomain.Repository
	Ledger entitlementdomain.Service
}

type Service struct {
	db     *gorm.DB
	log    *zap.Logger
	clock  clock.Clock
	repo   domain.Repository
	rates  ratedomain.Service
	users  userdomain.Repository
	ledger entitlementdomain.Service
}

func New(p Params) domain.Service {
	return &Service{
		db:     p.DB,
		log:    p.Log.Named("promo.service"),
		clock:  p.Clock,
		repo:   p.Repo,
		rates:  p.Rates,
		users:  p.Users,
		ledger: p.Ledger,
	}
}

func (s *Service) Add(ctx context.Context, req domain.CreatePromoRequest) (domain.Promo, error) {
	code := normalizeCode(req.Code)
	if code == "" || len(code) > 64 {
		return domain.Promo{}, domain.ErrInvalidCode
	}
	rate, err := s.rates.Get(ctx, strings.TrimSpace(req.RateName))
	if err != nil {
		return domain.Promo{}, err
	}

	promo := domain.Promo{Code: code, RateName: rate.Name, CreatedAt: s.clock.Now()}
	if err := s.repo.Insert(ctx, s.db, &promo); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return domain.Promo{}, domain.ErrDuplicatePromo
		}
		return domain.Promo{}, err
	}
	s.log.Info("promo created", zap.String("code", code), zap.String("rate", rate.Name))
	return promo, nil
}

func (s *Service) List(ctx context.Context) ([]domain.Promo, error) {
	return s.repo.List(ctx, s.db)
}

func (s *Service) Delete(ctx context.Context, code string) error {
	rows, err := s.repo.Delete(ctx, s.db, normalizeCode(code))
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrPromoNotFound
	}
	return nil
}

// Redeem replaces the user's balances with the promo rate's grant. Each user
// may use a code once; the user's current rate is left as is.
func (s *Service) Redeem(ctx context.Context, userID int64, code string) (userdomain.User, error) {
	code = normalizeCode(code)
	if code == "" {
		return userdomain.User{}, domain.ErrInvalidCode
	}
	promo, err := s.repo.FindByCode(ctx, s.db, code)
	if err != nil {
		return userdomain.User{}, err
	}
	if promo == nil {
		return userdomain.User{}, domain.ErrPromoNotFound
	}
	rate, err := s.rates.Get(ctx, promo.RateName)
	if err != nil {
		return userdomain.User{}, err
	}

	var redeemed userdomain.User
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user, err := s.users.FindByIDForUpdate(ctx, tx, userID)
		if err != nil {
			return err
		}
		if user == nil {
			return userdomain.ErrUserNotFound
		}
		if err := s.repo.InsertRedemption(ctx, tx, &domain.Redemption{
			Code:       code,
			UserID:     userID,
			RedeemedAt: s.clock.Now(),
		}); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return domain.ErrAlreadyRedeemed
			}
			return err
		}
		if err := s.ledger.GrantReplace(ctx, tx, user, rate); err != nil {
			return err
		}
		redeemed = *user
		return nil
	})
	if err != nil {
		if !errors.Is(err, domain.ErrAlreadyRedeemed) {
			s.log.Warn("promo redemption failed", zap.Int64("user_id", userID), zap.String("code", code), zap.Error(err))
		}
		return userdomain.User{}, err
	}
	return redeemed, nil
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
