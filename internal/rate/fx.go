package rate

import (
	"github.com/EF-corp/AgroBotTg/internal/rate/repository"
	"github.com/EF-corp/AgroBotTg/internal/rate/service"
	"go.uber.org/fx"
)

var Module = fx.Module("rate.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewCache),
	fx.Provide(service.New),
)
