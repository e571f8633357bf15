package service

import (
	"context"
	"strings"

	"github.com/EF-corp/AgroBotTg/internal/clock"
	"github.com/EF-corp/AgroBotTg/internal/config"
	"github.com/EF-corp/AgroBotTg/internal/user/domain"
	"github.com/EF-corp/AgroBotTg/pkg/db"
	"github.com/EF-corp/AgroBotTg/pkg/modelset"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	Clock  clock.Clock
	Config config.Config
	Policy *config.PolicyHolder
	Repo   domain.Repository
}

type Service struct {
	db     *gorm.DB
	log    *zap.Logger
	clock  clock.Clock
	cfg    config.Config
	policy *config.PolicyHolder
	repo   domain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:     p.DB,
		log:    p.Log.Named("user.service"),
		clock:  p.Clock,
		cfg:    p.Config,
		policy: p.Policy,
		repo:   p.Repo,
	}
}

// Ensure returns the user, creating it on first contact with the free grant
// or, for configured admins, the admin allowance.
func (s *Service) Ensure(ctx context.Context, req domain.EnsureUserRequest) (domain.User, bool, error) {
	if req.ID <= 0 {
		return domain.User{}, false, domain.ErrInvalidID
	}

	existing, err := s.repo.FindByID(ctx, s.db, req.ID)
	if err != nil {
		return domain.User{}, false, err
	}
	if existing != nil {
		return *existing, false, nil
	}

	now := s.clock.Now()
	policy := s.policy.Get()
	chatID := req.ChatID
	if chatID == 0 {
		chatID = req.ID
	}

	user := domain.User{
		ID:                  req.ID,
		ChatID:              chatID,
		Username:            strings.TrimSpace(req.Username),
		FirstName:           strings.TrimSpace(req.FirstName),
		LastName:            strings.TrimSpace(req.LastName),
		NTokens:             policy.FreePlan.Tokens,
		NTranscribedSeconds: policy.FreePlan.TranscribedSeconds,
		NGenerateSeconds:    policy.FreePlan.GeneratedSeconds,
		Models:              modelset.Encode(policy.FreePlan.Models),
		Rate:                domain.FreeRate,
		LastUpdate:          &now,
		LastInteraction:     now,
		FirstSeen:           now,
		SpendDay:            domain.Window{ResetAt: now},
		SpendWeek:           domain.Window{ResetAt: now},
		SpendMonth:          domain.Window{ResetAt: now},
	}
	if s.cfg.IsAdmin(req.ID) {
		user.IsAdmin = true
		user.NTokens = policy.AdminAllowance.Tokens
		user.NTranscribedSeconds = policy.AdminAllowance.TranscribedSeconds
		user.NGenerateSeconds = policy.AdminAllowance.GeneratedSeconds
	}

	if err := s.repo.Insert(ctx, s.db, &user); err != nil {
		if db.IsDuplicateKeyErr(err) {
			// lost a first-contact race, the other insert wins
			created, findErr := s.repo.FindByID(ctx, s.db, req.ID)
			if findErr == nil && created != nil {
				return *created, false, nil
			}
		}
		return domain.User{}, false, err
	}

	s.log.Info("user registered", zap.Int64("user_id", user.ID), zap.Bool("is_admin", user.IsAdmin))
	return user, true, nil
}

func (s *Service) Get(ctx context.Context, id int64) (domain.User, error) {
	if id <= 0 {
		return domain.User{}, domain.ErrInvalidID
	}
	user, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return domain.User{}, err
	}
	if user == nil {
		return domain.User{}, domain.ErrUserNotFound
	}
	return *user, nil
}

func (s *Service) SetPhone(ctx context.Context, id int64, phone string) error {
	phone = normalizePhone(phone)
	if phone == "" {
		return domain.ErrInvalidPhone
	}
	return s.repo.UpdatePhone(ctx, s.db, id, phone)
}

// normalizePhone keeps digits only; the provider expects a bare number.
func normalizePhone(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) < 10 || len(digits) > 15 {
		return ""
	}
	return digits
}
