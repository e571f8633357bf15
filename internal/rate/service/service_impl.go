package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/EF-corp/AgroBotTg/internal/clock"
	"github.com/EF-corp/AgroBotTg/internal/config"
	"github.com/EF-corp/AgroBotTg/internal/rate/domain"
	"github.com/EF-corp/AgroBotTg/pkg/db"
	"github.com/EF-corp/AgroBotTg/pkg/modelset"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxNameLength = 64

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	Clock  clock.Clock
	Policy *config.PolicyHolder
	Repo   domain.Repository
	Cache  Cache
}

type Service struct {
	db     *gorm.DB
	log    *zap.Logger
	clock  clock.Clock
	policy *config.PolicyHolder
	repo   domain.Repository
	cache  Cache
}

func New(p Params) domain.Service {
	return &Service{
		db:     p.DB,
		log:    p.Log.Named("rate.service"),
		clock:  p.Clock,
		policy: p.Policy,
		repo:   p.Repo,
		cache:  p.Cache,
	}
}

func (s *Service) Get(ctx context.Context, name string) (domain.Rate, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Rate{}, domain.ErrInvalidName
	}
	if cached, ok := s.cache.Get(ctx, name); ok {
		return cached, nil
	}

	rate, err := s.repo.FindByName(ctx, s.db, name)
	if err != nil {
		return domain.Rate{}, err
	}
	if rate == nil {
		return domain.Rate{}, domain.ErrRateNotFound
	}
	s.cache.Set(ctx, *rate)
	return *rate, nil
}

func (s *Service) List(ctx context.Context) ([]domain.Rate, error) {
	return s.repo.List(ctx, s.db)
}

func (s *Service) Add(ctx context.Context, req domain.CreateRateRequest) (domain.Rate, error) {
	name := strings.TrimSpace(req.Name)
	if err := validateName(name); err != nil {
		return domain.Rate{}, err
	}
	if name == domain.FreeRate {
		return domain.Rate{}, domain.ErrReservedRate
	}

	rateType := strings.ToLower(strings.TrimSpace(req.Type))
	if !domain.ValidType(rateType) {
		return domain.Rate{}, domain.ErrInvalidType
	}
	if req.Price <= 0 {
		return domain.Rate{}, domain.ErrInvalidPrice
	}
	if req.NTokens < 0 || req.NTranscribedSeconds < 0 || req.NGeneratedSeconds < 0 {
		return domain.Rate{}, domain.ErrInvalidGrant
	}

	now := s.clock.Now()
	rate := domain.Rate{
		Name:                name,
		Type:                rateType,
		NTokens:             req.NTokens,
		NTranscribedSeconds: req.NTranscribedSeconds,
		NGeneratedSeconds:   req.NGeneratedSeconds,
		Models:              modelset.Encode(req.Models),
		Price:               req.Price,
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	if err := s.repo.Insert(ctx, s.db, &rate); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return domain.Rate{}, domain.ErrDuplicateRate
		}
		return domain.Rate{}, err
	}

	s.log.Info("rate added", zap.String("rate", rate.Name), zap.String("type", rate.Type), zap.Int64("price", rate.Price))
	return rate, nil
}

func (s *Service) Update(ctx context.Context, name string, req domain.UpdateRateRequest) (domain.Rate, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Rate{}, domain.ErrInvalidName
	}

	var updated domain.Rate
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.repo.FindByName(ctx, tx, name)
		if err != nil {
			return err
		}
		if current == nil {
			return domain.ErrRateNotFound
		}

		pending, err := s.repo.CountPending(ctx, tx, name)
		if err != nil {
			return err
		}
		if pending > 0 {
			return domain.ErrRateInFlight
		}

		next := *current
		if req.Type != nil {
			next.Type = strings.ToLower(strings.TrimSpace(*req.Type))
			if !domain.ValidType(next.Type) {
				return domain.ErrInvalidType
			}
		}
		if req.Price != nil {
			next.Price = *req.Price
		}
		if req.NTokens != nil {
			next.NTokens = *req.NTokens
		}
		if req.NTranscribedSeconds != nil {
			next.NTranscribedSeconds = *req.NTranscribedSeconds
		}
		if req.NGeneratedSeconds != nil {
			next.NGeneratedSeconds = *req.NGeneratedSeconds
		}
		if req.Models != nil {
			next.Models = modelset.Encode(*req.Models)
		}

		if name == domain.FreeRate && next.Price != 0 {
			return domain.ErrInvalidPrice
		}
		if name != domain.FreeRate && next.Price <= 0 {
			return domain.ErrInvalidPrice
		}
		if next.NTokens < 0 || next.NTranscribedSeconds < 0 || next.NGeneratedSeconds < 0 {
			return domain.ErrInvalidGrant
		}

		next.UpdatedAt = s.clock.Now()
		if err := s.repo.Update(ctx, tx, &next); err != nil {
			return err
		}
		updated = next
		return nil
	})
	if err != nil {
		return domain.Rate{}, err
	}

	s.cache.Invalidate(ctx, name)
	s.log.Info("rate updated", zap.String("rate", name))
	return updated, nil
}

// Delete removes a rate nobody holds and no payment targets.
func (s *Service) Delete(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.ErrInvalidName
	}
	if name == domain.FreeRate {
		return domain.ErrReservedRate
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		holders, err := s.repo.CountHolders(ctx, tx, name)
		if err != nil {
			return err
		}
		pending, err := s.repo.CountPending(ctx, tx, name)
		if err != nil {
			return err
		}
		if holders > 0 || pending > 0 {
			return fmt.Errorf("%w: %d holders, %d pending payments", domain.ErrRateInUse, holders, pending)
		}

		affected, err := s.repo.Delete(ctx, tx, name)
		if err != nil {
			return err
		}
		if affected == 0 {
			return domain.ErrRateNotFound
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.cache.Invalidate(ctx, name)
	s.log.Info("rate deleted", zap.String("rate", name))
	return nil
}

// EnsureFree seeds the reserved free rate and keeps its grant in step with policy.
func (s *Service) EnsureFree(ctx context.Context) (domain.Rate, error) {
	plan := s.policy.Get().FreePlan
	now := s.clock.Now()

	current, err := s.repo.FindByName(ctx, s.db, domain.FreeRate)
	if err != nil {
		return domain.Rate{}, err
	}

	rate := domain.Rate{
		Name:                domain.FreeRate,
		Type:                domain.TypeMonthly,
		NTokens:             plan.Tokens,
		NTranscribedSeconds: plan.TranscribedSeconds,
		NGeneratedSeconds:   plan.GeneratedSeconds,
		Models:              modelset.Encode(plan.Models),
		Price:               0,
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	if current == nil {
		if err := s.repo.Insert(ctx, s.db, &rate); err != nil && !db.IsDuplicateKeyErr(err) {
			return domain.Rate{}, err
		}
		s.log.Info("free rate seeded", zap.Int64("n_tokens", rate.NTokens))
		return rate, nil
	}

	rate.CreatedAt = current.CreatedAt
	if err := s.repo.Update(ctx, s.db, &rate); err != nil {
		return domain.Rate{}, err
	}
	s.cache.Invalidate(ctx, domain.FreeRate)
	return rate, nil
}

func validateName(name string) error {
	if name == "" || len(name) > maxNameLength {
		return domain.ErrInvalidName
	}
	if strings.ContainsAny(name, "/ \t\n") {
		return domain.ErrInvalidName
	}
	return nil
}
