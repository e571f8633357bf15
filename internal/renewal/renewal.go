package renewal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/EF-corp/AgroBotTg/internal/clock"
	"github.com/EF-corp/AgroBotTg/internal/config"
	entitlementdomain "github.com/EF-corp/AgroBotTg/internal/entitlement/domain"
	"github.com/EF-corp/AgroBotTg/internal/observability/metrics"
	paymentdomain "github.com/EF-corp/AgroBotTg/internal/payment/domain"
	ratedomain "github.com/EF-corp/AgroBotTg/internal/rate/domain"
	userdomain "github.com/EF-corp/AgroBotTg/internal/user/domain"
	"github.com/EF-corp/AgroBotTg/internal/userlock"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Result describes what a subscription check did.
type Result string

const (
	ResultNone       Result = "none"
	ResultToppedUp   Result = "topped_up"
	ResultRenewing   Result = "renewing"
	ResultDeferred   Result = "renewal_deferred"
	ResultRenewed    Result = "renewed"
	ResultDowngraded Result = "downgraded"
	ResultFailed     Result = "renewal_failed"
)

type Service interface {
	Check(ctx context.Context, userID int64) (Result, error)
	CancelSubscription(ctx context.Context, userID int64) error
}

type Params struct {
	fx.In

	Lifecycle fx.Lifecycle
	DB        *gorm.DB
	Log      *zap.Logger
	Clock    clock.Clock
	Policy   *config.PolicyHolder
	Users    userdomain.Repository
	Rates    ratedomain.Service
	Ledger   entitlementdomain.Service
	Payments paymentdomain.Service
	Locks    *userlock.Registry
	Notifier Notifier         `optional:"true"`
	Metrics  *metrics.Metrics `optional:"true"`
}

type service struct {
	db       *gorm.DB
	log      *zap.Logger
	clock    clock.Clock
	policy   *config.PolicyHolder
	users    userdomain.Repository
	rates    ratedomain.Service
	ledger   entitlementdomain.Service
	payments paymentdomain.Service
	locks    *userlock.Registry
	notifier Notifier
	metrics  *metrics.Metrics

	inflight sync.WaitGroup
}

func New(p Params) Service {
	s := newService(p)
	if p.Lifecycle != nil {
		p.Lifecycle.Append(fx.Hook{OnStop: s.Shutdown})
	}
	return s
}

func newService(p Params) *service {
	log := p.Log.Named("renewal.service")
	locks := p.Locks
	if locks == nil {
		locks = userlock.NewRegistry(nil, 0, log)
	}
	notifier := p.Notifier
	if notifier == nil {
		notifier = NewLogNotifier(log)
	}
	return &service{
		db:       p.DB,
		log:      log,
		clock:    p.Clock,
		policy:   p.Policy,
		users:    p.Users,
		rates:    p.Rates,
		ledger:   p.Ledger,
		payments: p.Payments,
		locks:    locks,
		notifier: notifier,
		metrics:  p.Metrics,
	}
}

// Check brings the user's subscription up to date. It runs on every
// interaction. An expired paid rate with a stored payer starts a background
// renewal charge; its failures never reach the interaction.
func (s *service) Check(ctx context.Context, userID int64) (Result, error) {
	now := s.clock.Now()
	if err := s.users.UpdateLastInteraction(ctx, s.db, userID, now); err != nil {
		return ResultNone, err
	}
	user, err := s.users.FindByID(ctx, s.db, userID)
	if err != nil {
		return ResultNone, err
	}
	if user == nil {
		return ResultNone, userdomain.ErrUserNotFound
	}
	if user.Rate == userdomain.FreeRate {
		return ResultNone, nil
	}

	rate, err := s.rates.Get(ctx, user.Rate)
	if err != nil && !errors.Is(err, ratedomain.ErrRateNotFound) {
		return ResultNone, err
	}
	if errors.Is(err, ratedomain.ErrRateNotFound) {
		s.log.Warn("user holds unknown rate, downgrading", zap.Int64("user_id", userID), zap.String("rate", user.Rate))
		result, err := s.downgrade(ctx, userID)
		return s.finish(ctx, result, err)
	}

	if withinPeriod(user, rate, now) {
		topUp := s.policy.Get().TopUpDays
		if topUp <= 0 || user.LastUpdate == nil || entitlementdomain.WholeDays(*user.LastUpdate, now) < topUp {
			return ResultNone, nil
		}
		result, err := s.topUp(ctx, userID, rate)
		return s.finish(ctx, result, err)
	}

	if !user.HasPayerToken() {
		result, err := s.downgrade(ctx, userID)
		return s.finish(ctx, result, err)
	}

	return s.startRenewal(ctx, userID)
}

// startRenewal charges the stored card in the background under the user's
// exclusive section, so concurrent interactions cannot charge twice and
// CancelPending reaches the poller. A busy user is retried on a later check.
func (s *service) startRenewal(ctx context.Context, userID int64) (Result, error) {
	h, err := s.locks.Acquire(context.WithoutCancel(ctx), userID)
	if err != nil {
		if !errors.Is(err, userlock.ErrBusy) {
			s.log.Warn("renewal lock unavailable", zap.Int64("user_id", userID), zap.Error(err))
		}
		return s.finish(ctx, ResultDeferred, nil)
	}

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		defer s.locks.Release(h)
		s.renew(h.Context(), userID)
	}()
	return s.finish(ctx, ResultRenewing, nil)
}

func (s *service) renew(ctx context.Context, userID int64) {
	outcome, err := s.payments.Renew(ctx, userID)
	var result Result
	switch {
	case err == nil:
		s.log.Info("subscription renewed", zap.Int64("user_id", userID), zap.String("rate", outcome.Rate))
		result = ResultRenewed
	case errors.Is(err, paymentdomain.ErrNoRenewalPossible):
		result, err = s.downgrade(context.WithoutCancel(ctx), userID)
		if err != nil {
			s.log.Error("downgrade after failed renewal", zap.Int64("user_id", userID), zap.Error(err))
			return
		}
	default:
		s.log.Warn("subscription renewal failed", zap.Int64("user_id", userID), zap.Error(err))
		s.metrics.RecordRenewal(ctx, string(ResultFailed))
		return
	}

	s.metrics.RecordRenewal(ctx, string(result))
	text := TextRenewed
	if result == ResultDowngraded {
		text = TextDowngraded
	}
	if err := s.notifier.Notify(context.WithoutCancel(ctx), userID, text); err != nil {
		s.log.Warn("notify renewal result", zap.Int64("user_id", userID), zap.Error(err))
	}
}

// Shutdown waits for background renewals. Their contexts are cancelled
// through the user lock registry.
func (s *service) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *service) CancelSubscription(ctx context.Context, userID int64) error {
	if err := s.users.UpdateRate(ctx, s.db, userID, userdomain.FreeRate, s.clock.Now()); err != nil {
		return err
	}
	s.log.Info("subscription cancelled", zap.Int64("user_id", userID))
	return nil
}

func (s *service) finish(ctx context.Context, result Result, err error) (Result, error) {
	if err != nil {
		return ResultNone, err
	}
	s.metrics.RecordRenewal(ctx, string(result))
	return result, nil
}

// topUp re-applies the current rate's grant once per top-up period.
func (s *service) topUp(ctx context.Context, userID int64, rate ratedomain.Rate) (Result, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user, err := s.users.FindByIDForUpdate(ctx, tx, userID)
		if err != nil {
			return err
		}
		if user == nil {
			return userdomain.ErrUserNotFound
		}
		now := s.clock.Now()
		user.LastUpdate = &now
		return s.ledger.Grant(ctx, tx, user, rate)
	})
	if err != nil {
		return ResultNone, fmt.Errorf("top up: %w", err)
	}
	return ResultToppedUp, nil
}

// downgrade moves the user to the free rate and applies its grant.
func (s *service) downgrade(ctx context.Context, userID int64) (Result, error) {
	free, err := s.rates.Get(ctx, ratedomain.FreeRate)
	if errors.Is(err, ratedomain.ErrRateNotFound) {
		free, err = s.rates.EnsureFree(ctx)
	}
	if err != nil {
		return ResultNone, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user, err := s.users.FindByIDForUpdate(ctx, tx, userID)
		if err != nil {
			return err
		}
		if user == nil {
			return userdomain.ErrUserNotFound
		}
		now := s.clock.Now()
		user.Rate = userdomain.FreeRate
		user.LastUpdate = &now
		return s.ledger.Grant(ctx, tx, user, free)
	})
	if err != nil {
		return ResultNone, fmt.Errorf("downgrade: %w", err)
	}
	s.log.Info("subscription expired, downgraded to free", zap.Int64("user_id", userID))
	return ResultDowngraded, nil
}

// withinPeriod reports whether the paid period is still running. The last
// day of the period counts as within it.
func withinPeriod(user *userdomain.User, rate ratedomain.Rate, now time.Time) bool {
	if user.LastPay == nil {
		return false
	}
	return entitlementdomain.WholeDays(*user.LastPay, now) <= rate.PeriodDays()
}
