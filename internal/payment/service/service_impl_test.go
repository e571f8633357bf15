package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/EF-corp/AgroBotTg/internal/clock"
	"github.com/EF-corp/AgroBotTg/internal/config"
	entitlementservice "github.com/EF-corp/AgroBotTg/internal/entitlement/service"
	"github.com/EF-corp/AgroBotTg/internal/gateway"
	"github.com/EF-corp/AgroBotTg/internal/payment/domain"
	"github.com/EF-corp/AgroBotTg/internal/payment/repository"
	ratedomain "github.com/EF-corp/AgroBotTg/internal/rate/domain"
	raterepo "github.com/EF-corp/AgroBotTg/internal/rate/repository"
	rateservice "github.com/EF-corp/AgroBotTg/internal/rate/service"
	userdomain "github.com/EF-corp/AgroBotTg/internal/user/domain"
	userrepo "github.com/EF-corp/AgroBotTg/internal/user/repository"
	"github.com/EF-corp/AgroBotTg/pkg/db/dbtest"
	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fakeGateway struct {
	mu sync.Mutex

	token        string
	cards        []string
	charge       gateway.Charge
	chargeErr    error
	statuses     []gateway.StatusReport
	pollErrs     map[int]error
	settleResult string
	onPoll       func(n int)

	registered []string
	charges    []gateway.ChargeRequest
	polls      int
	holds      []string
}

func (g *fakeGateway) RegisterPayer(ctx context.Context, phone, name, surname string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.registered = append(g.registered, phone)
	return g.token, nil
}

func (g *fakeGateway) ListActiveCards(ctx context.Context, payerToken string) ([]string, error) {
	return g.cards, nil
}

func (g *fakeGateway) InitiateCharge(ctx context.Context, req gateway.ChargeRequest) (gateway.Charge, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.charges = append(g.charges, req)
	return g.charge, g.chargeErr
}

func (g *fakeGateway) PollStatus(ctx context.Context, regPayNum string) (gateway.StatusReport, error) {
	g.mu.Lock()
	n := g.polls
	g.polls++
	report := g.statuses[len(g.statuses)-1]
	if n < len(g.statuses) {
		report = g.statuses[n]
	}
	hook := g.onPoll
	pollErr := g.pollErrs[n]
	g.mu.Unlock()
	if hook != nil {
		hook(n)
	}
	if pollErr != nil {
		return gateway.StatusReport{}, pollErr
	}
	return report, nil
}

func (g *fakeGateway) SettleHold(ctx context.Context, regPayNum, orderID string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.holds = append(g.holds, regPayNum+":"+orderID)
	return g.settleResult, nil
}

type fixture struct {
	svc   *Service
	db    *gorm.DB
	gw    *fakeGateway
	clock *clock.FakeClock
	users userdomain.Repository
	repo  domain.Repository
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn := dbtest.Open(t, &userdomain.User{}, &ratedomain.Rate{}, &domain.PendingPayment{})
	fc := clock.NewFakeClock(time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC))
	policy := config.NewStaticPolicyHolder(config.DefaultPolicy())
	log := zap.NewNop()

	rates := rateservice.New(rateservice.Params{
		DB:     conn,
		Log:    log,
		Clock:  fc,
		Policy: policy,
		Repo:   raterepo.Provide(),
		Cache:  rateservice.NewCache(config.Config{}, nil, log),
	})
	_, err := rates.Add(context.Background(), ratedomain.CreateRateRequest{
		Name:                "premium",
		Type:                ratedomain.TypeMonthly,
		NTokens:             100000,
		NTranscribedSeconds: 600,
		NGeneratedSeconds:   300,
		Models:              []string{"gpt-4o", "dall-e-3"},
		Price:               490,
	})
	require.NoError(t, err)

	users := userrepo.Provide()
	ledger := entitlementservice.New(entitlementservice.Params{
		DB:     conn,
		Log:    log,
		Clock:  fc,
		Policy: policy,
		Users:  users,
		Rates:  rates,
	})

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	gw := &fakeGateway{
		token:        "payer-1",
		cards:        []string{"card-old", "card-new"},
		charge:       gateway.Charge{RegPayNum: "rp-1", PayURL: "https://pay.example/rp-1"},
		statuses:     []gateway.StatusReport{{Status: gateway.StatusPaid, TotalAmount: 49000}},
		settleResult: gateway.SettleSuccess,
	}
	repo := repository.Provide()

	svc := NewService(Params{
		DB:      conn,
		Log:     log,
		Clock:   fc,
		GenID:   node,
		Gateway: gw,
		Rates:   rates,
		Users:   users,
		Ledger:  ledger,
		Repo:    repo,
	}).WithPollPolicy(domain.PollPolicy{Interval: 500 * time.Millisecond, Budget: 10 * time.Second})

	return &fixture{svc: svc, db: conn, gw: gw, clock: fc, users: users, repo: repo}
}

func (f *fixture) seedUser(t *testing.T, user userdomain.User) {
	t.Helper()
	if user.Rate == "" {
		user.Rate = userdomain.FreeRate
	}
	require.NoError(t, f.users.Insert(context.Background(), f.db, &user))
}

func (f *fixture) user(t *testing.T, id int64) *userdomain.User {
	t.Helper()
	user, err := f.users.FindByID(context.Background(), f.db, id)
	require.NoError(t, err)
	require.NotNil(t, user)
	return user
}

func (f *fixture) pending(t *testing.T, id int64) *domain.PendingPayment {
	t.Helper()
	p, err := f.repo.FindByUser(context.Background(), f.db, id)
	require.NoError(t, err)
	return p
}

func strptr(s string) *string { return &s }

func TestPurchaseCapturesAndGrants(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, userdomain.User{ID: 1, ChatID: 1, Phone: strptr("79990001122"), NTokens: 15000})
	f.gw.statuses = []gateway.StatusReport{
		{Status: gateway.StatusQueued},
		{Status: gateway.StatusInProgress},
		{Status: gateway.StatusPaid, RawState: "payed", TotalAmount: 49000},
	}

	var checkout string
	outcome, err := f.svc.Purchase(context.Background(), 1, "premium", func(url string) { checkout = url })
	require.NoError(t, err)
	assert.True(t, outcome.Granted)
	assert.Equal(t, gateway.StatusPaid, outcome.Status)
	assert.Equal(t, "https://pay.example/rp-1", checkout)
	assert.Equal(t, []string{"79990001122"}, f.gw.registered)
	require.Len(t, f.gw.charges, 1)
	assert.True(t, f.gw.charges[0].NeedRegisterCard)
	assert.Equal(t, int64(49000), f.gw.charges[0].Amount)
	assert.Equal(t, 3, f.gw.polls)

	user := f.user(t, 1)
	assert.Equal(t, "premium", user.Rate)
	assert.Equal(t, int64(115000), user.NTokens)
	assert.Equal(t, float64(600), user.NTranscribedSeconds)
	require.NotNil(t, user.LastPay)
	assert.True(t, user.LastPay.Equal(f.clock.Now()))
	require.NotNil(t, user.PayerToken)
	assert.Equal(t, "payer-1", *user.PayerToken)
	assert.Nil(t, f.pending(t, 1))
}

func TestPurchaseHeldIsConfirmed(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, userdomain.User{ID: 2, ChatID: 2, PayerToken: strptr("payer-2")})
	f.gw.statuses = []gateway.StatusReport{{Status: gateway.StatusHeld, RawState: "holded", TotalAmount: 49000}}

	outcome, err := f.svc.Purchase(context.Background(), 2, "premium", nil)
	require.NoError(t, err)
	assert.True(t, outcome.Granted)
	require.Len(t, f.gw.holds, 1)
	assert.Contains(t, f.gw.holds[0], "rp-1:")
	assert.Empty(t, f.gw.registered)
	assert.Equal(t, "premium", f.user(t, 2).Rate)
}

func TestPurchaseHeldSettlementRejected(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, userdomain.User{ID: 3, ChatID: 3, PayerToken: strptr("payer-3"), NTokens: 10})
	f.gw.statuses = []gateway.StatusReport{{Status: gateway.StatusHeld, TotalAmount: 49000}}
	f.gw.settleResult = "fail"

	_, err := f.svc.Purchase(context.Background(), 3, "premium", nil)
	assert.ErrorIs(t, err, domain.ErrPaymentFailed)
	assert.Equal(t, userdomain.FreeRate, f.user(t, 3).Rate)
	assert.Equal(t, int64(10), f.user(t, 3).NTokens)
	assert.Nil(t, f.pending(t, 3))
}

func TestPurchaseProviderError(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, userdomain.User{ID: 4, ChatID: 4, PayerToken: strptr("payer-4")})
	f.gw.statuses = []gateway.StatusReport{{Status: gateway.StatusError, RawState: "error"}}

	_, err := f.svc.Purchase(context.Background(), 4, "premium", nil)
	assert.ErrorIs(t, err, domain.ErrPaymentFailed)
	assert.Nil(t, f.pending(t, 4))
}

func TestPurchaseAmountMismatch(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, userdomain.User{ID: 5, ChatID: 5, PayerToken: strptr("payer-5"), NTokens: 7})
	f.gw.statuses = []gateway.StatusReport{{Status: gateway.StatusPaid, TotalAmount: 100}}

	outcome, err := f.svc.Purchase(context.Background(), 5, "premium", nil)
	assert.ErrorIs(t, err, domain.ErrAmountMismatch)
	assert.False(t, outcome.Granted)
	assert.Equal(t, int64(7), f.user(t, 5).NTokens)
	assert.Nil(t, f.pending(t, 5))
}

func TestPurchaseTimesOut(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, userdomain.User{ID: 6, ChatID: 6, PayerToken: strptr("payer-6")})
	f.gw.statuses = []gateway.StatusReport{{Status: gateway.StatusInProgress}}
	start := f.clock.Now()

	_, err := f.svc.Purchase(context.Background(), 6, "premium", nil)
	assert.ErrorIs(t, err, domain.ErrPaymentTimeout)
	assert.Equal(t, 21, f.gw.polls)
	assert.Equal(t, 10*time.Second, f.clock.Now().Sub(start))
	assert.Nil(t, f.pending(t, 6))
}

func TestPurchaseRejectsSecondPending(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, userdomain.User{ID: 7, ChatID: 7, PayerToken: strptr("payer-7")})
	require.NoError(t, f.repo.Insert(context.Background(), f.db, &domain.PendingPayment{
		UserID: 7, RegPayNum: "rp-existing", OrderID: 1, Amount: 49000,
		RateName: "premium", Kind: domain.KindPurchase, CreatedAt: f.clock.Now(),
	}))

	_, err := f.svc.Purchase(context.Background(), 7, "premium", nil)
	assert.ErrorIs(t, err, domain.ErrPaymentInFlight)
	assert.Empty(t, f.gw.charges)
	assert.NotNil(t, f.pending(t, 7))
}

func TestPurchaseRequiresPhone(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, userdomain.User{ID: 8, ChatID: 8})

	_, err := f.svc.Purchase(context.Background(), 8, "premium", nil)
	assert.ErrorIs(t, err, domain.ErrPaymentCreation)
	assert.ErrorIs(t, err, domain.ErrPhoneRequired)
	assert.Empty(t, f.gw.charges)
}

func TestPurchaseChargeCreationFails(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, userdomain.User{ID: 9, ChatID: 9, PayerToken: strptr("payer-9")})
	f.gw.chargeErr = gateway.ErrChargeCreation

	_, err := f.svc.Purchase(context.Background(), 9, "premium", nil)
	assert.ErrorIs(t, err, domain.ErrPaymentCreation)
	assert.Nil(t, f.pending(t, 9))
}

func TestPurchaseFreeRateNotPayable(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.rates.EnsureFree(context.Background())
	require.NoError(t, err)
	f.seedUser(t, userdomain.User{ID: 10, ChatID: 10, PayerToken: strptr("payer-10")})

	_, err = f.svc.Purchase(context.Background(), 10, userdomain.FreeRate, nil)
	assert.ErrorIs(t, err, domain.ErrRateNotPayable)
}

func TestPurchaseCancelledCleansUp(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, userdomain.User{ID: 11, ChatID: 11, PayerToken: strptr("payer-11")})
	f.gw.statuses = []gateway.StatusReport{{Status: gateway.StatusInProgress}}

	ctx, cancel := context.WithCancel(context.Background())
	f.gw.onPoll = func(n int) {
		if n == 2 {
			cancel()
		}
	}

	_, err := f.svc.Purchase(ctx, 11, "premium", nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, f.pending(t, 11))
}

func TestSettleByRegPayNumIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, userdomain.User{ID: 12, ChatID: 12, NTokens: 15000})
	require.NoError(t, f.repo.Insert(context.Background(), f.db, &domain.PendingPayment{
		UserID: 12, RegPayNum: "rp-12", OrderID: 12, Amount: 49000,
		RateName: "premium", Kind: domain.KindPurchase, CreatedAt: f.clock.Now(),
	}))

	first, err := f.svc.SettleByRegPayNum(context.Background(), "rp-12", 49000)
	require.NoError(t, err)
	assert.True(t, first.Granted)

	second, err := f.svc.SettleByRegPayNum(context.Background(), "rp-12", 49000)
	require.NoError(t, err)
	assert.False(t, second.Granted)
	assert.True(t, second.AlreadySettled)

	assert.Equal(t, int64(115000), f.user(t, 12).NTokens)
}

func TestSettleByRegPayNumAmountMismatch(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, userdomain.User{ID: 13, ChatID: 13, NTokens: 5})
	require.NoError(t, f.repo.Insert(context.Background(), f.db, &domain.PendingPayment{
		UserID: 13, RegPayNum: "rp-13", OrderID: 13, Amount: 49000,
		RateName: "premium", Kind: domain.KindPurchase, CreatedAt: f.clock.Now(),
	}))

	_, err := f.svc.SettleByRegPayNum(context.Background(), "rp-13", 1)
	assert.ErrorIs(t, err, domain.ErrAmountMismatch)
	assert.Equal(t, int64(5), f.user(t, 13).NTokens)
	assert.NotNil(t, f.pending(t, 13), "a mismatched notification must not drop the live charge")
}

func TestMismatchedNotificationDoesNotLoseCapture(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, userdomain.User{ID: 18, ChatID: 18, PayerToken: strptr("payer-18"), NTokens: 15000})
	f.gw.statuses = []gateway.StatusReport{
		{Status: gateway.StatusInProgress},
		{Status: gateway.StatusPaid, RawState: "payed", TotalAmount: 49000},
	}
	f.gw.onPoll = func(n int) {
		if n == 0 {
			_, err := f.svc.SettleByRegPayNum(context.Background(), "rp-1", 1)
			assert.ErrorIs(t, err, domain.ErrAmountMismatch)
		}
	}

	outcome, err := f.svc.Purchase(context.Background(), 18, "premium", nil)
	require.NoError(t, err)
	assert.True(t, outcome.Granted)
	assert.False(t, outcome.AlreadySettled)

	user := f.user(t, 18)
	assert.Equal(t, "premium", user.Rate)
	assert.Equal(t, int64(115000), user.NTokens)
	assert.Nil(t, f.pending(t, 18))
}

func TestCaptureGrantedWhenPendingRowVanished(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, userdomain.User{ID: 19, ChatID: 19, PayerToken: strptr("payer-19"), NTokens: 15000})
	f.gw.statuses = []gateway.StatusReport{
		{Status: gateway.StatusInProgress},
		{Status: gateway.StatusPaid, TotalAmount: 49000},
	}
	f.gw.onPoll = func(n int) {
		if n == 0 {
			_, err := f.repo.DeleteByRegPayNum(context.Background(), f.db, "rp-1")
			require.NoError(t, err)
		}
	}

	outcome, err := f.svc.Purchase(context.Background(), 19, "premium", nil)
	require.NoError(t, err)
	assert.True(t, outcome.Granted)
	assert.Equal(t, "premium", f.user(t, 19).Rate)
	assert.Equal(t, int64(115000), f.user(t, 19).NTokens)
}

func TestPollErrorFailsPayment(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, userdomain.User{ID: 20, ChatID: 20, PayerToken: strptr("payer-20"), NTokens: 3})
	f.gw.statuses = []gateway.StatusReport{{Status: gateway.StatusInProgress}}
	f.gw.pollErrs = map[int]error{1: gateway.ErrStatusCheck}

	outcome, err := f.svc.Purchase(context.Background(), 20, "premium", nil)
	assert.ErrorIs(t, err, domain.ErrPaymentFailed)
	assert.ErrorIs(t, err, gateway.ErrStatusCheck)
	assert.False(t, outcome.Granted)
	assert.Equal(t, 2, f.gw.polls)
	assert.Nil(t, f.pending(t, 20))
	assert.Equal(t, int64(3), f.user(t, 20).NTokens)
}

func TestPollErrorRetriedWhenEnabled(t *testing.T) {
	f := newFixture(t)
	f.svc.WithPollPolicy(domain.PollPolicy{Interval: 500 * time.Millisecond, Budget: 10 * time.Second, RetryErrors: true})
	f.seedUser(t, userdomain.User{ID: 21, ChatID: 21, PayerToken: strptr("payer-21")})
	f.gw.statuses = []gateway.StatusReport{
		{Status: gateway.StatusInProgress},
		{Status: gateway.StatusInProgress},
		{Status: gateway.StatusPaid, TotalAmount: 49000},
	}
	f.gw.pollErrs = map[int]error{1: gateway.ErrStatusCheck}

	outcome, err := f.svc.Purchase(context.Background(), 21, "premium", nil)
	require.NoError(t, err)
	assert.True(t, outcome.Granted)
	assert.Equal(t, 3, f.gw.polls)
}

func TestPollerAndWebhookGrantOnce(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, userdomain.User{ID: 14, ChatID: 14, PayerToken: strptr("payer-14"), NTokens: 15000})
	f.gw.statuses = []gateway.StatusReport{{Status: gateway.StatusPaid, TotalAmount: 49000}}
	f.gw.onPoll = func(int) {
		_, err := f.svc.SettleByRegPayNum(context.Background(), "rp-1", 49000)
		require.NoError(t, err)
	}

	outcome, err := f.svc.Purchase(context.Background(), 14, "premium", nil)
	require.NoError(t, err)
	assert.True(t, outcome.AlreadySettled)
	assert.False(t, outcome.Granted)
	assert.Equal(t, int64(115000), f.user(t, 14).NTokens)
}

func TestRenewUsesLastActiveCard(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, userdomain.User{ID: 15, ChatID: 15, Rate: "premium", PayerToken: strptr("payer-15")})

	outcome, err := f.svc.Renew(context.Background(), 15)
	require.NoError(t, err)
	assert.True(t, outcome.Granted)
	assert.Equal(t, domain.KindRenewal, outcome.Kind)
	require.Len(t, f.gw.charges, 1)
	assert.Equal(t, "card-new", f.gw.charges[0].CardToken)
	assert.False(t, f.gw.charges[0].NeedRegisterCard)
}

func TestRenewWithoutCards(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, userdomain.User{ID: 16, ChatID: 16, Rate: "premium", PayerToken: strptr("payer-16")})
	f.gw.cards = nil

	_, err := f.svc.Renew(context.Background(), 16)
	assert.True(t, errors.Is(err, domain.ErrNoRenewalPossible))
	assert.Empty(t, f.gw.charges)
}

func TestCancelPendingWithoutPoller(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.repo.Insert(context.Background(), f.db, &domain.PendingPayment{
		UserID: 17, RegPayNum: "rp-17", OrderID: 17, Amount: 49000,
		RateName: "premium", Kind: domain.KindPurchase, CreatedAt: f.clock.Now(),
	}))

	cancelled, err := f.svc.CancelPending(context.Background(), 17)
	require.NoError(t, err)
	assert.True(t, cancelled)
	assert.Nil(t, f.pending(t, 17))

	cancelled, err = f.svc.CancelPending(context.Background(), 17)
	require.NoError(t, err)
	assert.False(t, cancelled)
}
