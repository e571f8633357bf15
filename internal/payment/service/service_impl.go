package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/EF-corp/AgroBotTg/internal/clock"
	"github.com/EF-corp/AgroBotTg/internal/config"
	entitlementdomain "github.com/EF-corp/AgroBotTg/internal/entitlement/domain"
	"github.com/EF-corp/AgroBotTg/internal/gateway"
	"github.com/EF-corp/AgroBotTg/internal/observability/metrics"
	"github.com/EF-corp/AgroBotTg/internal/payment/domain"
	ratedomain "github.com/EF-corp/AgroBotTg/internal/rate/domain"
	userdomain "github.com/EF-corp/AgroBotTg/internal/user/domain"
	"github.com/EF-corp/AgroBotTg/pkg/db"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const cleanupTimeout = 10 * time.Second

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Clock    clock.Clock
	GenID    *snowflake.Node
	Config   config.Config
	Gateway  gateway.Client
	Rates    ratedomain.Service
	Users    userdomain.Repository
	Ledger   entitlementdomain.Service
	Repo     domain.Repository
	Canceler domain.Canceler  `optional:"true"`
	Metrics  *metrics.Metrics `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	clock    clock.Clock
	genID    *snowflake.Node
	poll     domain.PollPolicy
	gateway  gateway.Client
	rates    ratedomain.Service
	users    userdomain.Repository
	ledger   entitlementdomain.Service
	repo     domain.Repository
	canceler domain.Canceler
	metrics  *metrics.Metrics
}

func New(p Params) domain.Service {
	return NewService(p)
}

func NewService(p Params) *Service {
	poll := domain.DefaultPollPolicy()
	if p.Config.Payment.PollInterval > 0 {
		poll.Interval = p.Config.Payment.PollInterval
	}
	if p.Config.Payment.PollBudget > 0 {
		poll.Budget = p.Config.Payment.PollBudget
	}
	poll.RetryErrors = p.Config.Payment.PollRetryErrors
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("payment.service"),
		clock:    p.Clock,
		genID:    p.GenID,
		poll:     poll,
		gateway:  p.Gateway,
		rates:    p.Rates,
		users:    p.Users,
		ledger:   p.Ledger,
		repo:     p.Repo,
		canceler: p.Canceler,
		metrics:  p.Metrics,
	}
}

// WithPollPolicy overrides the poll loop settings.
func (s *Service) WithPollPolicy(policy domain.PollPolicy) *Service {
	s.poll = policy
	return s
}

func (s *Service) Purchase(ctx context.Context, userID int64, rateName string, onCheckout func(payURL string)) (domain.Outcome, error) {
	rate, err := s.rates.Get(ctx, strings.TrimSpace(rateName))
	if err != nil {
		return domain.Outcome{}, err
	}
	if rate.Name == ratedomain.FreeRate || rate.AmountMinor() <= 0 {
		return domain.Outcome{}, domain.ErrRateNotPayable
	}

	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return domain.Outcome{}, err
	}
	if err := s.ensureNoPending(ctx, userID); err != nil {
		return domain.Outcome{}, err
	}

	payerToken, err := s.ensurePayer(ctx, user)
	if err != nil {
		return domain.Outcome{}, err
	}

	charge, err := s.gateway.InitiateCharge(ctx, gateway.ChargeRequest{
		PayerToken:       payerToken,
		Amount:           rate.AmountMinor(),
		OrderNote:        orderNote(rate.Name),
		NeedRegisterCard: true,
	})
	if err != nil {
		return domain.Outcome{}, fmt.Errorf("%w: %v", domain.ErrPaymentCreation, err)
	}

	pending, err := s.record(ctx, user.ID, charge.RegPayNum, rate, domain.KindPurchase)
	if err != nil {
		return domain.Outcome{}, err
	}
	if onCheckout != nil && charge.PayURL != "" {
		onCheckout(charge.PayURL)
	}
	return s.track(ctx, pending)
}

func (s *Service) Renew(ctx context.Context, userID int64) (domain.Outcome, error) {
	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return domain.Outcome{}, err
	}
	if user.Rate == userdomain.FreeRate || !user.HasPayerToken() {
		return domain.Outcome{}, domain.ErrNoRenewalPossible
	}
	rate, err := s.rates.Get(ctx, user.Rate)
	if err != nil {
		if errors.Is(err, ratedomain.ErrRateNotFound) {
			return domain.Outcome{}, domain.ErrNoRenewalPossible
		}
		return domain.Outcome{}, err
	}
	if rate.AmountMinor() <= 0 {
		return domain.Outcome{}, domain.ErrNoRenewalPossible
	}
	if err := s.ensureNoPending(ctx, userID); err != nil {
		return domain.Outcome{}, err
	}

	cards, err := s.gateway.ListActiveCards(ctx, *user.PayerToken)
	if err != nil {
		return domain.Outcome{}, fmt.Errorf("%w: %v", domain.ErrPaymentCreation, err)
	}
	if len(cards) == 0 {
		return domain.Outcome{}, domain.ErrNoRenewalPossible
	}

	charge, err := s.gateway.InitiateCharge(ctx, gateway.ChargeRequest{
		PayerToken: *user.PayerToken,
		CardToken:  cards[len(cards)-1],
		Amount:     rate.AmountMinor(),
		OrderNote:  orderNote(rate.Name),
	})
	if err != nil {
		return domain.Outcome{}, fmt.Errorf("%w: %v", domain.ErrPaymentCreation, err)
	}

	pending, err := s.record(ctx, user.ID, charge.RegPayNum, rate, domain.KindRenewal)
	if err != nil {
		return domain.Outcome{}, err
	}
	return s.track(ctx, pending)
}

// SettleByRegPayNum grants a charge reported as captured outside the poll
// loop. Unknown or already settled charges are a no-op.
func (s *Service) SettleByRegPayNum(ctx context.Context, regPayNum string, capturedAmount int64) (domain.Outcome, error) {
	regPayNum = strings.TrimSpace(regPayNum)
	if regPayNum == "" {
		return domain.Outcome{}, domain.ErrInvalidRegPayNum
	}
	pending, err := s.repo.FindByRegPayNum(ctx, s.db, regPayNum)
	if err != nil {
		return domain.Outcome{}, err
	}
	if pending == nil {
		s.metrics.RecordSettlement(ctx, "webhook", domain.OutcomeAlreadySettled)
		return domain.Outcome{RegPayNum: regPayNum, Status: gateway.StatusPaid, AlreadySettled: true}, nil
	}

	outcome := outcomeFor(*pending, gateway.StatusPaid)
	if capturedAmount != pending.Amount {
		// The notification endpoint is unauthenticated. The pending row stays
		// so the poller or the recovery sweep can settle against the provider.
		s.log.Warn("notified amount mismatch, pending payment kept",
			zap.String("reg_pay_num", regPayNum),
			zap.Int64("expected", pending.Amount),
			zap.Int64("captured", capturedAmount),
		)
		s.metrics.RecordSettlement(ctx, "webhook", domain.OutcomeAmountMismatch)
		return outcome, domain.ErrAmountMismatch
	}

	err = s.settle(ctx, *pending)
	switch {
	case err == nil:
		outcome.Granted = true
		s.metrics.RecordSettlement(ctx, "webhook", domain.OutcomeCaptured)
		return outcome, nil
	case errors.Is(err, domain.ErrAlreadySettled):
		outcome.AlreadySettled = true
		s.metrics.RecordSettlement(ctx, "webhook", domain.OutcomeAlreadySettled)
		return outcome, nil
	default:
		return outcome, err
	}
}

// CancelPending aborts the user's in-flight poll. The poller removes its own
// pending row on the way out. Without a live poller the row is dropped here.
func (s *Service) CancelPending(ctx context.Context, userID int64) (bool, error) {
	if s.canceler != nil && s.canceler.Cancel(userID) {
		return true, nil
	}
	rows, err := s.repo.DeleteByUser(ctx, s.db, userID)
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

func (s *Service) Pending(ctx context.Context, userID int64) (*domain.PendingPayment, error) {
	return s.repo.FindByUser(ctx, s.db, userID)
}

func (s *Service) loadUser(ctx context.Context, userID int64) (*userdomain.User, error) {
	user, err := s.users.FindByID(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, userdomain.ErrUserNotFound
	}
	return user, nil
}

func (s *Service) ensureNoPending(ctx context.Context, userID int64) error {
	existing, err := s.repo.FindByUser(ctx, s.db, userID)
	if err != nil {
		return err
	}
	if existing != nil {
		return domain.ErrPaymentInFlight
	}
	return nil
}

func (s *Service) ensurePayer(ctx context.Context, user *userdomain.User) (string, error) {
	if user.HasPayerToken() {
		return *user.PayerToken, nil
	}
	if !user.HasPhone() {
		return "", fmt.Errorf("%w: %w", domain.ErrPaymentCreation, domain.ErrPhoneRequired)
	}
	token, err := s.gateway.RegisterPayer(ctx, *user.Phone, user.FirstName, user.LastName)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrPaymentCreation, err)
	}
	if err := s.users.UpdatePayerToken(ctx, s.db, user.ID, token); err != nil {
		return "", err
	}
	user.PayerToken = &token
	return token, nil
}

func (s *Service) record(ctx context.Context, userID int64, regPayNum string, rate ratedomain.Rate, kind domain.Kind) (domain.PendingPayment, error) {
	pending := domain.PendingPayment{
		UserID:    userID,
		RegPayNum: regPayNum,
		OrderID:   s.genID.Generate(),
		Amount:    rate.AmountMinor(),
		RateName:  rate.Name,
		Kind:      kind,
		CreatedAt: s.clock.Now(),
	}
	if err := s.repo.Insert(ctx, s.db, &pending); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return domain.PendingPayment{}, domain.ErrPaymentInFlight
		}
		return domain.PendingPayment{}, err
	}
	s.log.Info("payment started",
		zap.Int64("user_id", userID),
		zap.String("reg_pay_num", regPayNum),
		zap.String("rate", rate.Name),
		zap.String("kind", string(kind)),
		zap.Int64("amount", pending.Amount),
	)
	return pending, nil
}

// track polls the charge to a terminal state and settles it. The pending row
// is removed on every exit path, with a context that outlives cancellation.
func (s *Service) track(ctx context.Context, pending domain.PendingPayment) (outcome domain.Outcome, err error) {
	outcome = outcomeFor(pending, gateway.StatusQueued)
	kind := string(pending.Kind)
	defer func() {
		if outcome.Granted || outcome.AlreadySettled {
			return
		}
		s.discard(ctx, pending)
		s.metrics.RecordSettlement(ctx, kind, failureOutcome(err))
	}()

	report, err := s.pollUntilTerminal(ctx, pending.RegPayNum)
	if err != nil {
		return outcome, err
	}
	outcome.Status = report.Status

	switch report.Status {
	case gateway.StatusPaid, gateway.StatusProcessed:
	case gateway.StatusHeld:
		result, err := s.gateway.SettleHold(ctx, pending.RegPayNum, pending.OrderID.String())
		if err != nil {
			return outcome, fmt.Errorf("%w: %v", domain.ErrPaymentFailed, err)
		}
		if result != gateway.SettleSuccess {
			return outcome, fmt.Errorf("%w: hold settlement %q", domain.ErrPaymentFailed, result)
		}
	default:
		return outcome, fmt.Errorf("%w: state %q", domain.ErrPaymentFailed, report.RawState)
	}

	if report.TotalAmount != pending.Amount {
		s.log.Warn("captured amount mismatch",
			zap.String("reg_pay_num", pending.RegPayNum),
			zap.Int64("expected", pending.Amount),
			zap.Int64("captured", report.TotalAmount),
		)
		return outcome, domain.ErrAmountMismatch
	}

	err = s.settle(ctx, pending)
	switch {
	case err == nil:
		outcome.Granted = true
		s.metrics.RecordSettlement(ctx, kind, domain.OutcomeCaptured)
	case errors.Is(err, domain.ErrAlreadySettled):
		outcome.AlreadySettled = true
		err = nil
		s.metrics.RecordSettlement(ctx, kind, domain.OutcomeAlreadySettled)
	}
	return outcome, err
}

func (s *Service) pollUntilTerminal(ctx context.Context, regPayNum string) (gateway.StatusReport, error) {
	deadline := s.clock.Now().Add(s.poll.Budget)
	for {
		report, err := s.gateway.PollStatus(ctx, regPayNum)
		if err == nil && s.poll.IsTerminal(report.Status) {
			return report, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return gateway.StatusReport{}, ctxErr
		}
		if err != nil {
			if !s.poll.RetryErrors {
				return gateway.StatusReport{}, fmt.Errorf("%w: %w", domain.ErrPaymentFailed, err)
			}
			s.log.Warn("payment status check failed", zap.String("reg_pay_num", regPayNum), zap.Error(err))
		}
		if !s.clock.Now().Before(deadline) {
			return gateway.StatusReport{}, domain.ErrPaymentTimeout
		}

		select {
		case <-ctx.Done():
			return gateway.StatusReport{}, ctx.Err()
		case <-s.clock.After(s.poll.Interval):
		}
	}
}

// settle deletes the pending row and grants the rate in one transaction.
// Only the caller that removes the row grants. A row that disappeared without
// a grant, for example dropped by the recovery sweep while the provider was
// still processing, is granted here because the capture was verified first.
func (s *Service) settle(ctx context.Context, pending domain.PendingPayment) error {
	rate, err := s.rates.Get(ctx, pending.RateName)
	if err != nil {
		return err
	}

	recovered := false
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rows, err := s.repo.DeleteByRegPayNum(ctx, tx, pending.RegPayNum)
		if err != nil {
			return err
		}

		user, err := s.users.FindByIDForUpdate(ctx, tx, pending.UserID)
		if err != nil {
			return err
		}
		if user == nil {
			return userdomain.ErrUserNotFound
		}
		if rows == 0 {
			if grantedSince(user, pending) {
				return domain.ErrAlreadySettled
			}
			recovered = true
		}

		now := s.clock.Now()
		user.Rate = rate.Name
		user.LastPay = &now
		user.LastUpdate = &now
		return s.ledger.Grant(ctx, tx, user, rate)
	})
	if err != nil {
		return err
	}

	log := s.log.Info
	if recovered {
		log = s.log.Warn
	}
	log("payment settled",
		zap.Int64("user_id", pending.UserID),
		zap.String("reg_pay_num", pending.RegPayNum),
		zap.String("rate", rate.Name),
		zap.String("kind", string(pending.Kind)),
		zap.Bool("pending_row_missing", recovered),
	)
	return nil
}

// grantedSince reports whether the user already received this charge's rate.
// Grants stamp last_pay after the pending row was created.
func grantedSince(user *userdomain.User, pending domain.PendingPayment) bool {
	if user.Rate != pending.RateName || user.LastPay == nil {
		return false
	}
	return !user.LastPay.Before(pending.CreatedAt.Truncate(time.Millisecond))
}

func (s *Service) discard(ctx context.Context, pending domain.PendingPayment) {
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	if _, err := s.repo.DeleteByRegPayNum(cleanupCtx, s.db, pending.RegPayNum); err != nil {
		s.log.Error("discard pending payment",
			zap.Int64("user_id", pending.UserID),
			zap.String("reg_pay_num", pending.RegPayNum),
			zap.Error(err),
		)
	}
}

func outcomeFor(pending domain.PendingPayment, status gateway.Status) domain.Outcome {
	return domain.Outcome{
		UserID:    pending.UserID,
		RegPayNum: pending.RegPayNum,
		Rate:      pending.RateName,
		Kind:      pending.Kind,
		Status:    status,
		Amount:    pending.Amount,
	}
}

func failureOutcome(err error) string {
	switch {
	case errors.Is(err, domain.ErrPaymentTimeout):
		return domain.OutcomeTimedOut
	case errors.Is(err, domain.ErrAmountMismatch):
		return domain.OutcomeAmountMismatch
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return domain.OutcomeCancelled
	default:
		return domain.OutcomeFailed
	}
}

func orderNote(rateName string) string {
	return "Оплата тарифа " + rateName
}
