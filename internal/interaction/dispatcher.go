package interaction

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/EF-corp/AgroBotTg/internal/assistant"
	entitlementdomain "github.com/EF-corp/AgroBotTg/internal/entitlement/domain"
	"github.com/EF-corp/AgroBotTg/internal/observability/metrics"
	paymentdomain "github.com/EF-corp/AgroBotTg/internal/payment/domain"
	promodomain "github.com/EF-corp/AgroBotTg/internal/promo/domain"
	ratedomain "github.com/EF-corp/AgroBotTg/internal/rate/domain"
	"github.com/EF-corp/AgroBotTg/internal/renewal"
	userdomain "github.com/EF-corp/AgroBotTg/internal/user/domain"
	"github.com/EF-corp/AgroBotTg/internal/userlock"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrUnknownRoute = errors.New("unknown_route")

// Handler serves one route. ctx is cancelled if the user aborts the operation.
type Handler func(ctx context.Context, ev InboundEvent) error

type route struct {
	handler   Handler
	exclusive bool
}

type Params struct {
	fx.In

	Lifecycle fx.Lifecycle
	Log       *zap.Logger
	Renewal   renewal.Service
	Locks     *userlock.Registry
	Users     userdomain.Service
	Rates     ratedomain.Service
	Ledger    entitlementdomain.Service
	Payments  paymentdomain.Service
	Promos    promodomain.Service
	Backend   assistant.Backend
	Notifier  Notifier         `optional:"true"`
	Metrics   *metrics.Metrics `optional:"true"`
}

// Dispatcher routes inbound events. Every event first brings the user's
// subscription up to date; exclusive routes also hold the user's lock.
type Dispatcher struct {
	log      *zap.Logger
	renewal  renewal.Service
	locks    *userlock.Registry
	messages *userlock.Registry
	users    userdomain.Service
	rates    ratedomain.Service
	ledger   entitlementdomain.Service
	payments paymentdomain.Service
	promos   promodomain.Service
	backend  assistant.Backend
	notifier Notifier
	metrics  *metrics.Metrics

	routes   map[string]route
	inflight sync.WaitGroup
}

func New(p Params) *Dispatcher {
	d := NewDispatcher(p)
	if p.Lifecycle != nil {
		p.Lifecycle.Append(fx.Hook{OnStop: d.Shutdown})
	}
	return d
}

func NewDispatcher(p Params) *Dispatcher {
	log := p.Log.Named("interaction.dispatcher")
	notifier := p.Notifier
	if notifier == nil {
		notifier = renewal.NewLogNotifier(log)
	}
	d := &Dispatcher{
		log:      log,
		renewal:  p.Renewal,
		locks:    p.Locks,
		messages: userlock.NewRegistry(nil, 0, log),
		users:    p.Users,
		rates:    p.Rates,
		ledger:   p.Ledger,
		payments: p.Payments,
		promos:   p.Promos,
		backend:  p.Backend,
		notifier: notifier,
		metrics:  p.Metrics,
		routes:   make(map[string]route),
	}
	d.registerDefaults()
	return d
}

// Handle registers a route. Exclusive routes are rejected with userlock.ErrBusy
// while another exclusive operation for the same user is running.
func (d *Dispatcher) Handle(name string, exclusive bool, h Handler) {
	d.routes[strings.ToLower(name)] = route{handler: h, exclusive: exclusive}
}

func (d *Dispatcher) Dispatch(ctx context.Context, ev InboundEvent) error {
	r, ok := d.routes[ev.Route()]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownRoute, ev.Route())
	}
	if err := d.checkSubscription(ctx, ev.UserID()); err != nil {
		return err
	}
	if !r.exclusive {
		return r.handler(ctx, ev)
	}

	h, err := d.locks.Acquire(ctx, ev.UserID())
	if err != nil {
		if errors.Is(err, userlock.ErrBusy) {
			_ = ev.Respond(ctx, textBusy)
		}
		return err
	}
	defer d.locks.Release(h)
	return r.handler(h.Context(), ev)
}

// Shutdown aborts background purchases and waits for their cleanup.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	if n := d.locks.CancelAll(); n > 0 {
		d.log.Info("cancelling in-flight operations", zap.Int("count", n))
	}
	done := make(chan struct{})
	go func() {
		d.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) checkSubscription(ctx context.Context, userID int64) error {
	result, err := d.renewal.Check(ctx, userID)
	if err != nil {
		if errors.Is(err, userdomain.ErrUserNotFound) {
			return err
		}
		d.log.Warn("subscription check failed", zap.Int64("user_id", userID), zap.Error(err))
		return nil
	}
	if result == renewal.ResultDowngraded {
		if err := d.notifier.Notify(ctx, userID, textDowngraded); err != nil {
			d.log.Warn("notify downgrade", zap.Int64("user_id", userID), zap.Error(err))
		}
	}
	return nil
}

func (d *Dispatcher) registerDefaults() {
	d.Handle("start", false, d.handleBalance)
	d.Handle("balance", false, d.handleBalance)
	d.Handle("rates", false, d.handleRates)
	d.Handle("buy", false, d.handleBuy)
	d.Handle("cancel_payment", false, d.handleCancelPayment)
	d.Handle("cancel_rate", true, d.handleCancelRate)
	d.Handle("promo", true, d.handlePromo)
}

func (d *Dispatcher) handleBalance(ctx context.Context, ev InboundEvent) error {
	balance, err := d.ledger.Balance(ctx, ev.UserID())
	if err != nil {
		return err
	}
	return ev.Respond(ctx, FormatBalance(balance))
}

func (d *Dispatcher) handleRates(ctx context.Context, ev InboundEvent) error {
	rates, err := d.rates.List(ctx)
	if err != nil {
		return err
	}
	var b strings.Builder
	b.WriteString("Доступные тарифы:\n")
	for _, r := range rates {
		if r.Name == ratedomain.FreeRate {
			continue
		}
		fmt.Fprintf(&b, "• %s: %d ₽ / %d дн., %d токенов\n", r.Name, r.Price, r.PeriodDays(), r.NTokens)
	}
	return ev.Respond(ctx, strings.TrimRight(b.String(), "\n"))
}

func (d *Dispatcher) handleBuy(ctx context.Context, ev InboundEvent) error {
	payURL, err := d.StartPurchase(ctx, ev.UserID(), ev.Args())
	if err != nil {
		switch {
		case errors.Is(err, userlock.ErrBusy), errors.Is(err, paymentdomain.ErrPaymentInFlight):
			_ = ev.Respond(ctx, textPaymentInFlight)
		case errors.Is(err, paymentdomain.ErrPhoneRequired):
			_ = ev.Respond(ctx, textPhoneRequired)
		}
		return err
	}
	return ev.Respond(ctx, "Для оплаты перейдите по ссылке: "+payURL)
}

func (d *Dispatcher) handleCancelPayment(ctx context.Context, ev InboundEvent) error {
	cancelled, err := d.payments.CancelPending(ctx, ev.UserID())
	if err != nil {
		return err
	}
	if !cancelled {
		return ev.Respond(ctx, "Нет активных платежей.")
	}
	return ev.Respond(ctx, "Платёж отменён.")
}

func (d *Dispatcher) handleCancelRate(ctx context.Context, ev InboundEvent) error {
	if err := d.renewal.CancelSubscription(ctx, ev.UserID()); err != nil {
		return err
	}
	return ev.Respond(ctx, "Подписка отменена, вы переведены на бесплатный тариф.")
}

func (d *Dispatcher) handlePromo(ctx context.Context, ev InboundEvent) error {
	user, err := d.promos.Redeem(ctx, ev.UserID(), ev.Args())
	if err != nil {
		switch {
		case errors.Is(err, promodomain.ErrPromoNotFound), errors.Is(err, promodomain.ErrInvalidCode):
			_ = ev.Respond(ctx, "Промокод не найден.")
		case errors.Is(err, promodomain.ErrAlreadyRedeemed):
			_ = ev.Respond(ctx, "Этот промокод уже использован.")
		}
		return err
	}
	return ev.Respond(ctx, fmt.Sprintf("Промокод применён! Доступно токенов: %d", user.NTokens))
}

// StartPurchase begins a purchase that keeps running after the caller returns.
// It returns once the checkout link exists; the final result goes to the Notifier.
func (d *Dispatcher) StartPurchase(ctx context.Context, userID int64, rateName string) (string, error) {
	h, err := d.locks.Acquire(context.WithoutCancel(ctx), userID)
	if err != nil {
		return "", err
	}

	checkout := make(chan string, 1)
	done := make(chan error, 1)
	d.inflight.Add(1)
	go func() {
		defer d.inflight.Done()
		defer d.locks.Release(h)
		outcome, err := d.payments.Purchase(h.Context(), userID, rateName, func(payURL string) {
			checkout <- payURL
		})
		d.reportPurchase(userID, outcome, err)
		done <- err
	}()

	select {
	case payURL := <-checkout:
		return payURL, nil
	case err := <-done:
		if err == nil {
			err = paymentdomain.ErrPaymentCreation
		}
		return "", err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (d *Dispatcher) reportPurchase(userID int64, outcome paymentdomain.Outcome, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var text string
	switch {
	case err == nil && (outcome.Granted || outcome.AlreadySettled):
		text = textPaymentSucceeded
	case errors.Is(err, context.Canceled):
		text = "Платёж отменён."
	case errors.Is(err, paymentdomain.ErrPaymentTimeout):
		text = "Время ожидания оплаты истекло."
	case err != nil && outcome.RegPayNum != "":
		text = "Оплата не прошла. Попробуйте снова или обратитесь в поддержку."
	default:
		return
	}
	if err := d.notifier.Notify(ctx, userID, text); err != nil {
		d.log.Warn("notify purchase outcome", zap.Int64("user_id", userID), zap.Error(err))
	}
}

// FormatBalance renders a balance summary for the chat.
func FormatBalance(b entitlementdomain.Balance) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Тариф: %s\n", b.Rate)
	fmt.Fprintf(&sb, "Токены: %d\n", b.NTokens)
	fmt.Fprintf(&sb, "Секунды распознавания: %.0f\n", b.NTranscribedSeconds)
	fmt.Fprintf(&sb, "Секунды озвучки: %.0f", b.NGenerateSeconds)
	if b.ExpiresAt != nil {
		fmt.Fprintf(&sb, "\nДействует до: %s", b.ExpiresAt.Format("02.01.2006"))
	}
	return sb.String()
}

const (
	textBusy             = "Дождитесь завершения предыдущей операции."
	textPaymentInFlight  = "У вас уже есть незавершённый платёж."
	textPhoneRequired    = "Для оплаты отправьте номер телефона."
	textPaymentSucceeded = "Оплата прошла успешно! Ваш баланс обновлён."
	textDowngraded       = renewal.TextDowngraded
	textQuotaExhausted   = "Лимит исчерпан. Оформите подписку, чтобы продолжить."
)
