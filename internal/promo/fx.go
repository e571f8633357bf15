package promo

import (
	"github.com/EF-corp/AgroBotTg/internal/promo/repository"
	"github.com/EF-corp/AgroBotTg/internal/promo/service"
	"go.uber.org/fx"
)

var Module = fx.Module("promo.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
