package migration

import (
	"context"

	"github.com/EF-corp/AgroBotTg/internal/authorization"
	"github.com/EF-corp/AgroBotTg/internal/config"
	ratedomain "github.com/EF-corp/AgroBotTg/internal/rate/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB     *gorm.DB
	Config config.Config
	Log    *zap.Logger
	Rates  ratedomain.Service
	Authz  authorization.Service `optional:"true"`
}

var Module = fx.Module("migrations",
	fx.Invoke(func(p Params) error {
		if err := RunMigrations(p.DB); err != nil {
			return err
		}
		return Seed(context.Background(), p.DB, p.Rates, p.Authz, p.Config.AdminIDs, p.Log.Named("migration"))
	}),
)
