package user

import (
	"github.com/EF-corp/AgroBotTg/internal/user/repository"
	"github.com/EF-corp/AgroBotTg/internal/user/service"
	"go.uber.org/fx"
)

var Module = fx.Module("user.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
