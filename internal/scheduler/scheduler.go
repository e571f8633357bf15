package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/EF-corp/AgroBotTg/internal/clock"
	"github.com/EF-corp/AgroBotTg/internal/gateway"
	"github.com/EF-corp/AgroBotTg/internal/observability/metrics"
	paymentdomain "github.com/EF-corp/AgroBotTg/internal/payment/domain"
	"github.com/EF-corp/AgroBotTg/internal/ratelimit"
	"github.com/EF-corp/AgroBotTg/internal/userlock"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const keyJobLock = "agrobot:scheduler:job:"

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Clock    clock.Clock
	Config   Config `optional:"true"`
	Repo     paymentdomain.Repository
	Payments paymentdomain.Service
	Gateway  gateway.Client
	Locks    *userlock.Registry
	Locker   *ratelimit.Locker `optional:"true"`
	Metrics  *metrics.Metrics  `optional:"true"`
}

type Scheduler struct {
	db       *gorm.DB
	log      *zap.Logger
	cfg      Config
	clock    clock.Clock
	repo     paymentdomain.Repository
	payments paymentdomain.Service
	gateway  gateway.Client
	locks    *userlock.Registry
	locker   *ratelimit.Locker
	metrics  *metrics.Metrics
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.Clock == nil || p.Repo == nil || p.Payments == nil || p.Gateway == nil || p.Locks == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		db:       p.DB,
		log:      p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:      p.Config.withDefaults(),
		clock:    p.Clock,
		repo:     p.Repo,
		payments: p.Payments,
		gateway:  p.Gateway,
		locks:    p.Locks,
		locker:   p.Locker,
		metrics:  p.Metrics,
	}, nil
}

// runJob runs fn under a timeout. With redis configured only one replica
// runs a given job per interval.
func (s *Scheduler) runJob(parent context.Context, name string, fn func(ctx context.Context) error) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, s.cfg.JobTimeout)
	defer cancel()

	if s.locker != nil {
		token, ok, err := s.locker.TryLock(ctx, keyJobLock+name, s.cfg.LockTTL)
		if err != nil {
			return err
		}
		if !ok {
			s.log.Debug("job owned by another instance", zap.String("job", name))
			return nil
		}
		defer func() {
			if err := s.locker.Release(context.WithoutCancel(ctx), keyJobLock+name, token); err != nil {
				s.log.Warn("release job lock", zap.String("job", name), zap.Error(err))
			}
		}()
	}

	err := fn(ctx)
	log := s.log.With(zap.String("job", name), zap.Duration("elapsed", s.clock.Now().Sub(start)))
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		log.Warn("job timed out", zap.Duration("timeout", s.cfg.JobTimeout))
		return nil
	}
	log.Error("job failed", zap.Error(err))
	return err
}

func (s *Scheduler) RunOnce(ctx context.Context) error {
	return s.runJob(ctx, "pending_payment_recovery", s.RecoverySweepJob)
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
