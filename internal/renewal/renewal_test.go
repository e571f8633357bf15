package renewal

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/EF-corp/AgroBotTg/internal/clock"
	"github.com/EF-corp/AgroBotTg/internal/config"
	entitlementservice "github.com/EF-corp/AgroBotTg/internal/entitlement/service"
	paymentdomain "github.com/EF-corp/AgroBotTg/internal/payment/domain"
	ratedomain "github.com/EF-corp/AgroBotTg/internal/rate/domain"
	raterepo "github.com/EF-corp/AgroBotTg/internal/rate/repository"
	rateservice "github.com/EF-corp/AgroBotTg/internal/rate/service"
	userdomain "github.com/EF-corp/AgroBotTg/internal/user/domain"
	userrepo "github.com/EF-corp/AgroBotTg/internal/user/repository"
	"github.com/EF-corp/AgroBotTg/internal/userlock"
	"github.com/EF-corp/AgroBotTg/pkg/db/dbtest"
	"github.com/EF-corp/AgroBotTg/pkg/modelset"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type mockPayments struct {
	mock.Mock
}

func (m *mockPayments) Purchase(ctx context.Context, userID int64, rateName string, onCheckout func(string)) (paymentdomain.Outcome, error) {
	args := m.Called(ctx, userID, rateName)
	return args.Get(0).(paymentdomain.Outcome), args.Error(1)
}

func (m *mockPayments) Renew(ctx context.Context, userID int64) (paymentdomain.Outcome, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(paymentdomain.Outcome), args.Error(1)
}

func (m *mockPayments) SettleByRegPayNum(ctx context.Context, regPayNum string, amount int64) (paymentdomain.Outcome, error) {
	args := m.Called(ctx, regPayNum, amount)
	return args.Get(0).(paymentdomain.Outcome), args.Error(1)
}

func (m *mockPayments) CancelPending(ctx context.Context, userID int64) (bool, error) {
	args := m.Called(ctx, userID)
	return args.Bool(0), args.Error(1)
}

func (m *mockPayments) Pending(ctx context.Context, userID int64) (*paymentdomain.PendingPayment, error) {
	args := m.Called(ctx, userID)
	p, _ := args.Get(0).(*paymentdomain.PendingPayment)
	return p, args.Error(1)
}

type recordingNotifier struct {
	mu    sync.Mutex
	texts []string
}

func (n *recordingNotifier) Notify(ctx context.Context, userID int64, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.texts = append(n.texts, text)
	return nil
}

func (n *recordingNotifier) all() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.texts...)
}

type fixture struct {
	svc      *service
	db       *gorm.DB
	clock    *clock.FakeClock
	users    userdomain.Repository
	payments *mockPayments
	locks    *userlock.Registry
	notifier *recordingNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn := dbtest.Open(t, &userdomain.User{}, &ratedomain.Rate{}, &paymentdomain.PendingPayment{})
	fc := clock.NewFakeClock(time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC))
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
	_, err := rates.EnsureFree(context.Background())
	require.NoError(t, err)
	_, err = rates.Add(context.Background(), ratedomain.CreateRateRequest{
		Name:                "premium",
		Type:                ratedomain.TypeMonthly,
		NTokens:             100000,
		NTranscribedSeconds: 600,
		NGeneratedSeconds:   300,
		Models:              []string{"dall-e-3"},
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
	payments := &mockPayments{}
	locks := userlock.NewRegistry(nil, 0, log)
	notifier := &recordingNotifier{}

	svc := newService(Params{
		DB:       conn,
		Log:      log,
		Clock:    fc,
		Policy:   policy,
		Users:    users,
		Rates:    rates,
		Ledger:   ledger,
		Payments: payments,
		Locks:    locks,
		Notifier: notifier,
	})
	return &fixture{svc: svc, db: conn, clock: fc, users: users, payments: payments, locks: locks, notifier: notifier}
}

func (f *fixture) wait(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.svc.Shutdown(ctx))
}

func (f *fixture) daysAgo(days int) *time.Time {
	at := f.clock.Now().AddDate(0, 0, -days)
	return &at
}

func (f *fixture) seed(t *testing.T, user userdomain.User) {
	t.Helper()
	require.NoError(t, f.users.Insert(context.Background(), f.db, &user))
}

func (f *fixture) load(t *testing.T, id int64) *userdomain.User {
	t.Helper()
	user, err := f.users.FindByID(context.Background(), f.db, id)
	require.NoError(t, err)
	require.NotNil(t, user)
	return user
}

func token(s string) *string { return &s }

func TestCheckFreeUserIsNoop(t *testing.T) {
	f := newFixture(t)
	f.seed(t, userdomain.User{ID: 1, ChatID: 1, Rate: userdomain.FreeRate, NTokens: 20})

	result, err := f.svc.Check(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, ResultNone, result)

	user := f.load(t, 1)
	assert.Equal(t, int64(20), user.NTokens)
	assert.True(t, user.LastInteraction.Equal(f.clock.Now()))
	f.payments.AssertNotCalled(t, "Renew", mock.Anything, mock.Anything)
}

func TestCheckWithinPeriodTopsUpStaleGrant(t *testing.T) {
	f := newFixture(t)
	f.seed(t, userdomain.User{ID: 2, ChatID: 2, Rate: "premium", NTokens: 500,
		LastPay: f.daysAgo(10), LastUpdate: f.daysAgo(31)})

	result, err := f.svc.Check(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, ResultToppedUp, result)

	user := f.load(t, 2)
	assert.Equal(t, int64(100500), user.NTokens)
	require.NotNil(t, user.LastUpdate)
	assert.True(t, user.LastUpdate.Equal(f.clock.Now()))
}

func TestCheckWithinPeriodFreshGrant(t *testing.T) {
	f := newFixture(t)
	f.seed(t, userdomain.User{ID: 3, ChatID: 3, Rate: "premium", NTokens: 500,
		LastPay: f.daysAgo(30), LastUpdate: f.daysAgo(5)})

	result, err := f.svc.Check(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, ResultNone, result, "day 30 of a monthly rate is still within the period")
	assert.Equal(t, int64(500), f.load(t, 3).NTokens)
}

func TestCheckExpiredWithoutTokenDowngrades(t *testing.T) {
	f := newFixture(t)
	f.seed(t, userdomain.User{ID: 4, ChatID: 4, Rate: "premium", NTokens: 100,
		Models:  modelset.Encode([]string{"dall-e-3"}),
		LastPay: f.daysAgo(31), LastUpdate: f.daysAgo(31)})

	result, err := f.svc.Check(context.Background(), 4)
	require.NoError(t, err)
	assert.Equal(t, ResultDowngraded, result)

	user := f.load(t, 4)
	assert.Equal(t, userdomain.FreeRate, user.Rate)
	assert.Equal(t, int64(15100), user.NTokens)
	assert.ElementsMatch(t, []string{"dall-e-3", "gpt-4o"}, modelset.Decode(user.Models))
	assert.True(t, user.LastUpdate.Equal(f.clock.Now()))
	f.payments.AssertNotCalled(t, "Renew", mock.Anything, mock.Anything)
}

func TestCheckExpiredWithTokenRenews(t *testing.T) {
	f := newFixture(t)
	f.seed(t, userdomain.User{ID: 5, ChatID: 5, Rate: "premium", PayerToken: token("payer-5"),
		LastPay: f.daysAgo(40), LastUpdate: f.daysAgo(40)})
	f.payments.On("Renew", mock.Anything, int64(5)).
		Return(paymentdomain.Outcome{UserID: 5, Rate: "premium", Granted: true}, nil).Once()

	result, err := f.svc.Check(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, ResultRenewing, result)

	f.wait(t)
	f.payments.AssertExpectations(t)
	assert.Equal(t, []string{TextRenewed}, f.notifier.all())
	assert.False(t, f.locks.Busy(5))
}

func TestCheckNoStoredCardDowngrades(t *testing.T) {
	f := newFixture(t)
	f.seed(t, userdomain.User{ID: 6, ChatID: 6, Rate: "premium", PayerToken: token("payer-6"),
		LastPay: f.daysAgo(40)})
	f.payments.On("Renew", mock.Anything, int64(6)).
		Return(paymentdomain.Outcome{}, paymentdomain.ErrNoRenewalPossible).Once()

	result, err := f.svc.Check(context.Background(), 6)
	require.NoError(t, err)
	assert.Equal(t, ResultRenewing, result)

	f.wait(t)
	assert.Equal(t, userdomain.FreeRate, f.load(t, 6).Rate)
	assert.Equal(t, []string{TextDowngraded}, f.notifier.all())
}

func TestCheckRenewalFailureIsSwallowed(t *testing.T) {
	f := newFixture(t)
	f.seed(t, userdomain.User{ID: 7, ChatID: 7, Rate: "premium", PayerToken: token("payer-7"),
		LastPay: f.daysAgo(40)})
	f.payments.On("Renew", mock.Anything, int64(7)).
		Return(paymentdomain.Outcome{}, errors.New("gateway down")).Once()

	result, err := f.svc.Check(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, ResultRenewing, result)

	f.wait(t)
	assert.Equal(t, "premium", f.load(t, 7).Rate)
	assert.Empty(t, f.notifier.all())
}

func TestConcurrentChecksStartOneRenewal(t *testing.T) {
	f := newFixture(t)
	f.seed(t, userdomain.User{ID: 9, ChatID: 9, Rate: "premium", PayerToken: token("payer-9"),
		LastPay: f.daysAgo(40)})

	started := make(chan struct{})
	release := make(chan struct{})
	f.payments.On("Renew", mock.Anything, int64(9)).
		Run(func(mock.Arguments) {
			close(started)
			<-release
		}).
		Return(paymentdomain.Outcome{UserID: 9, Rate: "premium", Granted: true}, nil).Once()

	results := make([]Result, 3)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := f.svc.Check(context.Background(), 9)
			assert.NoError(t, err)
			results[i] = r
		}(i)
	}
	wg.Wait()
	<-started

	assert.ElementsMatch(t, []Result{ResultRenewing, ResultDeferred, ResultDeferred}, results)
	assert.True(t, f.locks.Busy(9))

	close(release)
	f.wait(t)
	f.payments.AssertNumberOfCalls(t, "Renew", 1)
	assert.False(t, f.locks.Busy(9))
}

func TestCheckDefersWhileUserBusy(t *testing.T) {
	f := newFixture(t)
	f.seed(t, userdomain.User{ID: 10, ChatID: 10, Rate: "premium", PayerToken: token("payer-10"),
		LastPay: f.daysAgo(40)})
	h, err := f.locks.Acquire(context.Background(), 10)
	require.NoError(t, err)
	defer f.locks.Release(h)

	result, err := f.svc.Check(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, ResultDeferred, result)
	f.payments.AssertNotCalled(t, "Renew", mock.Anything, mock.Anything)
}

func TestRenewalCancelledThroughLocks(t *testing.T) {
	f := newFixture(t)
	f.seed(t, userdomain.User{ID: 11, ChatID: 11, Rate: "premium", PayerToken: token("payer-11"),
		LastPay: f.daysAgo(40)})

	started := make(chan struct{})
	f.payments.On("Renew", mock.Anything, int64(11)).
		Run(func(args mock.Arguments) {
			close(started)
			<-args.Get(0).(context.Context).Done()
		}).
		Return(paymentdomain.Outcome{}, context.Canceled).Once()

	result, err := f.svc.Check(context.Background(), 11)
	require.NoError(t, err)
	require.Equal(t, ResultRenewing, result)
	<-started

	assert.True(t, f.locks.Cancel(11))
	f.wait(t)
	assert.False(t, f.locks.Busy(11))
	assert.Equal(t, "premium", f.load(t, 11).Rate)
	assert.Empty(t, f.notifier.all())
}

func TestCheckUnknownUser(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Check(context.Background(), 404)
	assert.ErrorIs(t, err, userdomain.ErrUserNotFound)
}

func TestCancelSubscription(t *testing.T) {
	f := newFixture(t)
	f.seed(t, userdomain.User{ID: 8, ChatID: 8, Rate: "premium", NTokens: 900, LastPay: f.daysAgo(1)})

	require.NoError(t, f.svc.CancelSubscription(context.Background(), 8))
	user := f.load(t, 8)
	assert.Equal(t, userdomain.FreeRate, user.Rate)
	assert.Equal(t, int64(900), user.NTokens)
}
