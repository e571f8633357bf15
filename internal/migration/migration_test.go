package migration

import (
	"context"
	"testing"
	"time"

	"github.com/EF-corp/AgroBotTg/internal/authorization"
	"github.com/EF-corp/AgroBotTg/internal/clock"
	"github.com/EF-corp/AgroBotTg/internal/config"
	raterepo "github.com/EF-corp/AgroBotTg/internal/rate/repository"
	rateservice "github.com/EF-corp/AgroBotTg/internal/rate/service"
	userdomain "github.com/EF-corp/AgroBotTg/internal/user/domain"
	"github.com/EF-corp/AgroBotTg/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRunMigrationsCreatesTables(t *testing.T) {
	conn := dbtest.Open(t)
	require.NoError(t, RunMigrations(conn))
	require.NoError(t, RunMigrations(conn))

	for _, table := range []string{"rates", "users", "pending_payments", "promos", "promo_redemptions"} {
		assert.True(t, conn.Migrator().HasTable(table), table)
	}
}

func TestRunMigrationsRequiresHandle(t *testing.T) {
	assert.Error(t, RunMigrations(nil))
}

func TestSeedFreeRateAndAdmins(t *testing.T) {
	conn := dbtest.Open(t)
	require.NoError(t, RunMigrations(conn))
	ctx := context.Background()

	require.NoError(t, conn.Create(&userdomain.User{ID: 11, ChatID: 11, Rate: userdomain.FreeRate}).Error)
	require.NoError(t, conn.Create(&userdomain.User{ID: 12, ChatID: 12, Rate: userdomain.FreeRate}).Error)

	rates := rateservice.New(rateservice.Params{
		DB:     conn,
		Log:    zap.NewNop(),
		Clock:  clock.NewFakeClock(time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)),
		Policy: config.NewStaticPolicyHolder(config.DefaultPolicy()),
		Repo:   raterepo.Provide(),
		Cache:  rateservice.NewCache(config.Config{}, nil, zap.NewNop()),
	})
	enforcer, err := authorization.NewEnforcer(conn)
	require.NoError(t, err)
	authz := authorization.NewService(authorization.Params{DB: conn, Log: zap.NewNop(), Enforcer: enforcer})

	require.NoError(t, Seed(ctx, conn, rates, authz, []int64{11, 0}, zap.NewNop()))

	free, err := rates.Get(ctx, userdomain.FreeRate)
	require.NoError(t, err)
	assert.Equal(t, int64(0), free.Price)

	var admin, regular userdomain.User
	require.NoError(t, conn.First(&admin, 11).Error)
	require.NoError(t, conn.First(&regular, 12).Error)
	assert.True(t, admin.IsAdmin)
	assert.False(t, regular.IsAdmin)

	assert.NoError(t, authz.Authorize(ctx, "user:11", authorization.ObjectRate, authorization.ActionRateCreate))
	assert.ErrorIs(t, authz.Authorize(ctx, "user:12", authorization.ObjectRate, authorization.ActionRateCreate), authorization.ErrForbidden)
}
