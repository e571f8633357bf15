package payment

import (
	"github.com/EF-corp/AgroBotTg/internal/payment/domain"
	"github.com/EF-corp/AgroBotTg/internal/payment/repository"
	paymentservice "github.com/EF-corp/AgroBotTg/internal/payment/service"
	"github.com/EF-corp/AgroBotTg/internal/payment/webhook"
	"github.com/EF-corp/AgroBotTg/internal/userlock"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(func(r *userlock.Registry) domain.Canceler { return r }),
	fx.Provide(paymentservice.New),
	fx.Provide(webhook.NewService),
)
