package authorization

import (
	"context"
	_ "embed"
	"fmt"
	"strconv"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const (
	ObjectRate  = "rate"
	ObjectPromo = "promo"
	ObjectUser  = "user"

	ActionRateCreate = "rate.create"
	ActionRateUpdate = "rate.update"
	ActionRateDelete = "rate.delete"

	ActionPromoCreate = "promo.create"
	ActionPromoView   = "promo.view"
	ActionPromoDelete = "promo.delete"

	ActionUserView = "user.view"

	ActorAPIKey = "api_key"

	roleAdmin  = "role:admin"
	roleSystem = "role:system"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
}

type ServiceImpl struct {
	db       *gorm.DB
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
}

func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	enforcer.BuildRoleLinks()
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		db:       p.DB,
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, actor string, object string, action string) error {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return ErrInvalidActor
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	subject, roleName, err := s.resolveActor(ctx, actor)
	if err != nil {
		s.log.Warn("authorization denied", zap.String("actor", actor), zap.String("action", action), zap.Error(err))
		return err
	}

	if err := s.ensureGrouping(subject, roleName); err != nil {
		return err
	}

	allowed, err := s.enforcer.Enforce(subject, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.log.Warn("authorization denied", zap.String("actor", actor), zap.String("object", object), zap.String("action", action))
		return ErrForbidden
	}
	return nil
}

// GrantAdmin links the telegram account to the admin role.
func (s *ServiceImpl) GrantAdmin(ctx context.Context, userID int64) error {
	if userID <= 0 {
		return ErrInvalidActor
	}
	return s.ensureGrouping(userSubject(userID), roleAdmin)
}

func (s *ServiceImpl) resolveActor(ctx context.Context, actor string) (string, string, error) {
	if actor == ActorAPIKey {
		return actor, roleSystem, nil
	}
	if strings.HasPrefix(actor, "user:") {
		userID, err := strconv.ParseInt(strings.TrimPrefix(actor, "user:"), 10, 64)
		if err != nil || userID <= 0 {
			return "", "", ErrInvalidActor
		}
		isAdmin, err := s.isAdmin(ctx, userID)
		if err != nil {
			return "", "", err
		}
		if !isAdmin {
			if err := s.revokeGrouping(userSubject(userID)); err != nil {
				return "", "", err
			}
			return "", "", ErrForbidden
		}
		return userSubject(userID), roleAdmin, nil
	}
	return "", "", ErrInvalidActor
}

func (s *ServiceImpl) isAdmin(ctx context.Context, userID int64) (bool, error) {
	var row struct {
		IsAdmin bool `gorm:"column:is_admin"`
	}
	if err := s.db.WithContext(ctx).Raw(
		`SELECT is_admin
		 FROM users
		 WHERE id = ?
		 LIMIT 1`,
		userID,
	).Scan(&row).Error; err != nil {
		return false, err
	}
	return row.IsAdmin, nil
}

func (s *ServiceImpl) ensureGrouping(subject string, roleName string) error {
	existing, err := s.enforcer.GetFilteredGroupingPolicy(0, subject)
	if err != nil {
		return err
	}
	for _, rule := range existing {
		if len(rule) < 2 || rule[1] == roleName {
			continue
		}
		params := make([]interface{}, 0, len(rule))
		for _, value := range rule {
			params = append(params, value)
		}
		_, _ = s.enforcer.RemoveGroupingPolicy(params...)
	}

	has, err := s.enforcer.HasGroupingPolicy(subject, roleName)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	_, err = s.enforcer.AddGroupingPolicy(subject, roleName)
	return err
}

func (s *ServiceImpl) revokeGrouping(subject string) error {
	_, err := s.enforcer.RemoveFilteredGroupingPolicy(0, subject)
	return err
}

func userSubject(userID int64) string {
	return fmt.Sprintf("user:%d", userID)
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	policies := [][]string{
		// Bot administrators
		{roleAdmin, ObjectRate, ActionRateCreate},
		{roleAdmin, ObjectRate, ActionRateUpdate},
		{roleAdmin, ObjectPromo, ActionPromoCreate},
		{roleAdmin, ObjectPromo, ActionPromoView},
		{roleAdmin, ObjectUser, ActionUserView},

		// Console API key
		{roleSystem, ObjectRate, ActionRateCreate},
		{roleSystem, ObjectRate, ActionRateUpdate},
		{roleSystem, ObjectRate, ActionRateDelete},
		{roleSystem, ObjectPromo, ActionPromoCreate},
		{roleSystem, ObjectPromo, ActionPromoView},
		{roleSystem, ObjectPromo, ActionPromoDelete},
		{roleSystem, ObjectUser, ActionUserView},
	}

	for _, policy := range policies {
		has, err := enforcer.HasPolicy(policy)
		if err != nil {
			return err
		}
		if has {
			continue
		}
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}
	return nil
}
