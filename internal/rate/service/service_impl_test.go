package service

import (
	"context"
	"testing"
	"time"

	"github.com/EF-corp/AgroBotTg/internal/clock"
	"github.com/EF-corp/AgroBotTg/internal/config"
	"github.com/EF-corp/AgroBotTg/internal/rate/domain"
	"github.com/EF-corp/AgroBotTg/internal/rate/repository"
	"github.com/EF-corp/AgroBotTg/pkg/db/dbtest"
	"github.com/EF-corp/AgroBotTg/pkg/modelset"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (domain.Service, *gorm.DB) {
	t.Helper()
	conn := dbtest.Open(t, &domain.Rate{})
	require.NoError(t, conn.Exec(`CREATE TABLE users (id INTEGER PRIMARY KEY, rate TEXT)`).Error)
	require.NoError(t, conn.Exec(`CREATE TABLE pending_payments (user_id INTEGER PRIMARY KEY, rate_name TEXT)`).Error)

	svc := New(Params{
		DB:     conn,
		Log:    zap.NewNop(),
		Clock:  clock.NewFakeClock(time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)),
		Policy: config.NewStaticPolicyHolder(config.DefaultPolicy()),
		Repo:   repository.Provide(),
		Cache:  NewCache(config.Config{}, nil, zap.NewNop()),
	})
	return svc, conn
}

func premium() domain.CreateRateRequest {
	return domain.CreateRateRequest{
		Name:                "premium",
		Type:                "monthly",
		NTokens:             100000,
		NTranscribedSeconds: 600,
		NGeneratedSeconds:   300,
		Models:              []string{"gpt-4o", "dall-e-3"},
		Price:               490,
	}
}

func TestAddAndGet(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.Add(ctx, premium())
	require.NoError(t, err)
	assert.Equal(t, int64(49000), created.AmountMinor())
	assert.Equal(t, 30, created.PeriodDays())

	got, err := svc.Get(ctx, "premium")
	require.NoError(t, err)
	assert.Equal(t, []string{"dall-e-3", "gpt-4o"}, modelset.Decode(got.Models))

	_, err = svc.Add(ctx, premium())
	assert.ErrorIs(t, err, domain.ErrDuplicateRate)

	_, err = svc.Get(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrRateNotFound)
}

func TestAddValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	req := premium()
	req.Type = "weekly"
	_, err := svc.Add(ctx, req)
	assert.ErrorIs(t, err, domain.ErrInvalidType)

	req = premium()
	req.Price = 0
	_, err = svc.Add(ctx, req)
	assert.ErrorIs(t, err, domain.ErrInvalidPrice)

	req = premium()
	req.Name = "free"
	_, err = svc.Add(ctx, req)
	assert.ErrorIs(t, err, domain.ErrReservedRate)

	req = premium()
	req.NTokens = -1
	_, err = svc.Add(ctx, req)
	assert.ErrorIs(t, err, domain.ErrInvalidGrant)
}

func TestUpdateBlockedWhilePaymentInFlight(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()
	_, err := svc.Add(ctx, premium())
	require.NoError(t, err)

	// warm the cache, then make sure the update invalidates it
	_, err = svc.Get(ctx, "premium")
	require.NoError(t, err)

	price := int64(590)
	updated, err := svc.Update(ctx, "premium", domain.UpdateRateRequest{Price: &price})
	require.NoError(t, err)
	assert.Equal(t, int64(590), updated.Price)

	got, err := svc.Get(ctx, "premium")
	require.NoError(t, err)
	assert.Equal(t, int64(590), got.Price)

	require.NoError(t, conn.Exec(`INSERT INTO pending_payments (user_id, rate_name) VALUES (1, 'premium')`).Error)
	_, err = svc.Update(ctx, "premium", domain.UpdateRateRequest{Price: &price})
	assert.ErrorIs(t, err, domain.ErrRateInFlight)

	_, err = svc.Update(ctx, "missing", domain.UpdateRateRequest{Price: &price})
	assert.ErrorIs(t, err, domain.ErrRateNotFound)
}

func TestDeleteChecksReferences(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()
	_, err := svc.Add(ctx, premium())
	require.NoError(t, err)

	assert.ErrorIs(t, svc.Delete(ctx, "free"), domain.ErrReservedRate)
	assert.ErrorIs(t, svc.Delete(ctx, "missing"), domain.ErrRateNotFound)

	require.NoError(t, conn.Exec(`INSERT INTO users (id, rate) VALUES (10, 'premium')`).Error)
	assert.ErrorIs(t, svc.Delete(ctx, "premium"), domain.ErrRateInUse)

	require.NoError(t, conn.Exec(`UPDATE users SET rate = 'free' WHERE id = 10`).Error)
	require.NoError(t, conn.Exec(`INSERT INTO pending_payments (user_id, rate_name) VALUES (10, 'premium')`).Error)
	assert.ErrorIs(t, svc.Delete(ctx, "premium"), domain.ErrRateInUse)

	require.NoError(t, conn.Exec(`DELETE FROM pending_payments`).Error)
	require.NoError(t, svc.Delete(ctx, "premium"))

	_, err = svc.Get(ctx, "premium")
	assert.ErrorIs(t, err, domain.ErrRateNotFound)
}

func TestEnsureFreeIsIdempotent(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.EnsureFree(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(15000), first.NTokens)
	assert.Equal(t, int64(0), first.Price)

	_, err = svc.EnsureFree(ctx)
	require.NoError(t, err)

	rates, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, rates, 1)
	assert.Equal(t, "free", rates[0].Name)
}

func TestListOrderedByPrice(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.EnsureFree(ctx)
	require.NoError(t, err)

	yearly := premium()
	yearly.Name = "annual"
	yearly.Type = "yearly"
	yearly.Price = 4900
	_, err = svc.Add(ctx, yearly)
	require.NoError(t, err)
	_, err = svc.Add(ctx, premium())
	require.NoError(t, err)

	rates, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, rates, 3)
	assert.Equal(t, []string{"free", "premium", "annual"}, []string{rates[0].Name, rates[1].Name, rates[2].Name})
	assert.Equal(t, 365, rates[2].PeriodDays())
}
