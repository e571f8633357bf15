package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/EF-corp/AgroBotTg/internal/clock"
	"github.com/EF-corp/AgroBotTg/internal/config"
	"github.com/EF-corp/AgroBotTg/internal/entitlement/domain"
	"github.com/EF-corp/AgroBotTg/internal/observability/metrics"
	ratedomain "github.com/EF-corp/AgroBotTg/internal/rate/domain"
	userdomain "github.com/EF-corp/AgroBotTg/internal/user/domain"
	"github.com/EF-corp/AgroBotTg/pkg/modelset"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Clock   clock.Clock
	Policy  *config.PolicyHolder
	Users   userdomain.Repository
	Rates   ratedomain.Service
	Metrics *metrics.Metrics `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	clock   clock.Clock
	policy  *config.PolicyHolder
	users   userdomain.Repository
	rates   ratedomain.Service
	metrics *metrics.Metrics
}

func New(p Params) domain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("entitlement.service"),
		clock:   p.Clock,
		policy:  p.Policy,
		users:   p.Users,
		rates:   p.Rates,
		metrics: p.Metrics,
	}
}

// Debit charges usage against the user's balances and rolling windows.
func (s *Service) Debit(ctx context.Context, userID int64, usage domain.Usage) (userdomain.User, error) {
	if err := usage.Validate(); err != nil {
		return userdomain.User{}, err
	}

	var debited userdomain.User
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user, err := s.users.FindByIDForUpdate(ctx, tx, userID)
		if err != nil {
			return err
		}
		if user == nil {
			return userdomain.ErrUserNotFound
		}

		now := s.clock.Now()
		user.NTokens -= usage.Tokens
		user.NTranscribedSeconds -= usage.TranscribeSeconds
		user.NGenerateSeconds -= usage.GenerateSeconds
		if strings.EqualFold(s.policy.Get().Overdraft, config.OverdraftClamp) {
			clampAtZero(user)
		}

		domain.ResetExpiredWindows(user, now)
		user.SpendDay.Add(usage.Tokens, usage.TranscribeSeconds, usage.GenerateSeconds)
		user.SpendWeek.Add(usage.Tokens, usage.TranscribeSeconds, usage.GenerateSeconds)
		user.SpendMonth.Add(usage.Tokens, usage.TranscribeSeconds, usage.GenerateSeconds)
		user.SpendAll.Add(usage.Tokens, usage.TranscribeSeconds, usage.GenerateSeconds)

		if err := s.users.Save(ctx, tx, user); err != nil {
			return err
		}
		debited = *user
		return nil
	})
	if err != nil {
		return userdomain.User{}, err
	}

	s.metrics.RecordQuotaDebit(ctx)
	if debited.NTokens < 0 {
		s.log.Debug("balance overdrawn", zap.Int64("user_id", userID), zap.Int64("n_tokens", debited.NTokens))
	}
	return debited, nil
}

// Grant tops up tokens and replaces seconds and models with the rate's grant.
func (s *Service) Grant(ctx context.Context, tx *gorm.DB, user *userdomain.User, rate ratedomain.Rate) error {
	return s.grant(ctx, tx, user, rate, false)
}

// GrantReplace is Grant with the token balance replaced instead of topped up.
func (s *Service) GrantReplace(ctx context.Context, tx *gorm.DB, user *userdomain.User, rate ratedomain.Rate) error {
	return s.grant(ctx, tx, user, rate, true)
}

func (s *Service) grant(ctx context.Context, tx *gorm.DB, user *userdomain.User, rate ratedomain.Rate, replace bool) error {
	if user == nil {
		return userdomain.ErrUserNotFound
	}
	if tx == nil {
		tx = s.db
	}
	domain.ApplyGrant(user, rate, replace)
	if err := s.users.Save(ctx, tx, user); err != nil {
		return fmt.Errorf("grant %s: %w", rate.Name, err)
	}
	s.log.Info("rate granted",
		zap.Int64("user_id", user.ID),
		zap.String("rate", rate.Name),
		zap.Bool("replace_tokens", replace),
		zap.Int64("n_tokens", user.NTokens),
	)
	return nil
}

// Balance returns the user's entitlements and, for paid rates, when they lapse.
func (s *Service) Balance(ctx context.Context, userID int64) (domain.Balance, error) {
	user, err := s.users.FindByID(ctx, s.db, userID)
	if err != nil {
		return domain.Balance{}, err
	}
	if user == nil {
		return domain.Balance{}, userdomain.ErrUserNotFound
	}

	balance := domain.Balance{
		UserID:              user.ID,
		Rate:                user.Rate,
		NTokens:             user.NTokens,
		NTranscribedSeconds: user.NTranscribedSeconds,
		NGenerateSeconds:    user.NGenerateSeconds,
		Models:              modelset.Decode(user.Models),
		LastPay:             user.LastPay,
		SpendDay:            user.SpendDay,
		SpendWeek:           user.SpendWeek,
		SpendMonth:          user.SpendMonth,
		SpendAll:            user.SpendAll,
	}

	if user.Rate != userdomain.FreeRate && user.LastPay != nil {
		rate, err := s.rates.Get(ctx, user.Rate)
		if err != nil {
			s.log.Warn("balance without rate details", zap.Int64("user_id", userID), zap.String("rate", user.Rate), zap.Error(err))
		} else {
			expires := user.LastPay.AddDate(0, 0, rate.PeriodDays())
			balance.ExpiresAt = &expires
		}
	}
	return balance, nil
}

func clampAtZero(user *userdomain.User) {
	if user.NTokens < 0 {
		user.NTokens = 0
	}
	if user.NTranscribedSeconds < 0 {
		user.NTranscribedSeconds = 0
	}
	if user.NGenerateSeconds < 0 {
		user.NGenerateSeconds = 0
	}
}
