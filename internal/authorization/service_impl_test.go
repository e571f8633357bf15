package authorization

import (
	"context"
	"testing"

	userdomain "github.com/EF-corp/AgroBotTg/internal/user/domain"
	"github.com/EF-corp/AgroBotTg/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (Service, *gorm.DB) {
	t.Helper()

	conn := dbtest.Open(t, &userdomain.User{})
	enforcer, err := NewEnforcer(conn)
	require.NoError(t, err)

	return NewService(Params{DB: conn, Log: zap.NewNop(), Enforcer: enforcer}), conn
}

func insertUser(t *testing.T, conn *gorm.DB, id int64, admin bool) {
	t.Helper()
	require.NoError(t, conn.Create(&userdomain.User{ID: id, ChatID: id, Rate: userdomain.FreeRate, IsAdmin: admin}).Error)
}

func TestAuthorizeAPIKeyHasFullAccess(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	assert.NoError(t, svc.Authorize(ctx, ActorAPIKey, ObjectRate, ActionRateCreate))
	assert.NoError(t, svc.Authorize(ctx, ActorAPIKey, ObjectRate, ActionRateDelete))
	assert.NoError(t, svc.Authorize(ctx, ActorAPIKey, ObjectPromo, ActionPromoCreate))
}

func TestAuthorizeAdminUser(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()
	insertUser(t, conn, 42, true)

	assert.NoError(t, svc.Authorize(ctx, "user:42", ObjectRate, ActionRateCreate))
	assert.NoError(t, svc.Authorize(ctx, "user:42", ObjectPromo, ActionPromoCreate))
	assert.ErrorIs(t, svc.Authorize(ctx, "user:42", ObjectRate, ActionRateDelete), ErrForbidden)
}

func TestAuthorizeRegularUserForbidden(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()
	insertUser(t, conn, 7, false)

	assert.ErrorIs(t, svc.Authorize(ctx, "user:7", ObjectRate, ActionRateCreate), ErrForbidden)
	assert.ErrorIs(t, svc.Authorize(ctx, "user:999", ObjectRate, ActionRateCreate), ErrForbidden)
}

func TestAuthorizeRevokesDemotedAdmin(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()
	insertUser(t, conn, 5, true)

	require.NoError(t, svc.GrantAdmin(ctx, 5))
	require.NoError(t, svc.Authorize(ctx, "user:5", ObjectRate, ActionRateUpdate))

	require.NoError(t, conn.Model(&userdomain.User{}).Where("id = ?", 5).Update("is_admin", false).Error)
	assert.ErrorIs(t, svc.Authorize(ctx, "user:5", ObjectRate, ActionRateUpdate), ErrForbidden)
}

func TestAuthorizeValidatesInput(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	assert.ErrorIs(t, svc.Authorize(ctx, "", ObjectRate, ActionRateCreate), ErrInvalidActor)
	assert.ErrorIs(t, svc.Authorize(ctx, "user:abc", ObjectRate, ActionRateCreate), ErrInvalidActor)
	assert.ErrorIs(t, svc.Authorize(ctx, "robot", ObjectRate, ActionRateCreate), ErrInvalidActor)
	assert.ErrorIs(t, svc.Authorize(ctx, ActorAPIKey, " ", ActionRateCreate), ErrInvalidObject)
	assert.ErrorIs(t, svc.Authorize(ctx, ActorAPIKey, ObjectRate, ""), ErrInvalidAction)
	assert.ErrorIs(t, svc.GrantAdmin(ctx, 0), ErrInvalidActor)
}

func TestNewEnforcerSeedIsIdempotent(t *testing.T) {
	conn := dbtest.Open(t, &userdomain.User{})
	_, err := NewEnforcer(conn)
	require.NoError(t, err)

	enforcer, err := NewEnforcer(conn)
	require.NoError(t, err)

	policies, err := enforcer.GetPolicy()
	require.NoError(t, err)
	assert.Len(t, policies, 12)
}
