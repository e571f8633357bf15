package main

import (
	"github.com/EF-corp/AgroBotTg/internal/assistant"
	"github.com/EF-corp/AgroBotTg/internal/authorization"
	"github.com/EF-corp/AgroBotTg/internal/clock"
	"github.com/EF-corp/AgroBotTg/internal/config"
	"github.com/EF-corp/AgroBotTg/internal/entitlement"
	"github.com/EF-corp/AgroBotTg/internal/gateway"
	"github.com/EF-corp/AgroBotTg/internal/interaction"
	"github.com/EF-corp/AgroBotTg/internal/migration"
	"github.com/EF-corp/AgroBotTg/internal/observability"
	"github.com/EF-corp/AgroBotTg/internal/payment"
	"github.com/EF-corp/AgroBotTg/internal/promo"
	"github.com/EF-corp/AgroBotTg/internal/rate"
	"github.com/EF-corp/AgroBotTg/internal/ratelimit"
	"github.com/EF-corp/AgroBotTg/internal/renewal"
	"github.com/EF-corp/AgroBotTg/internal/scheduler"
	"github.com/EF-corp/AgroBotTg/internal/server"
	"github.com/EF-corp/AgroBotTg/internal/user"
	"github.com/EF-corp/AgroBotTg/internal/userlock"
	"github.com/EF-corp/AgroBotTg/pkg/db"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		ratelimit.Module,

		// Domains
		authorization.Module,
		user.Module,
		rate.Module,
		entitlement.Module,
		gateway.Module,
		userlock.Module,
		payment.Module,
		renewal.Module,
		promo.Module,
		assistant.Module,
		interaction.Module,
		migration.Module,
		scheduler.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.SnowflakeNode)
}
