// Command sweeper runs only the pending payment recovery job, for deployments
// that keep it out of the bot-facing process.
package main

import (
	"github.com/EF-corp/AgroBotTg/internal/clock"
	"github.com/EF-corp/AgroBotTg/internal/config"
	"github.com/EF-corp/AgroBotTg/internal/entitlement"
	"github.com/EF-corp/AgroBotTg/internal/gateway"
	"github.com/EF-corp/AgroBotTg/internal/observability"
	"github.com/EF-corp/AgroBotTg/internal/payment"
	"github.com/EF-corp/AgroBotTg/internal/rate"
	"github.com/EF-corp/AgroBotTg/internal/ratelimit"
	"github.com/EF-corp/AgroBotTg/internal/scheduler"
	"github.com/EF-corp/AgroBotTg/internal/user"
	"github.com/EF-corp/AgroBotTg/internal/userlock"
	"github.com/EF-corp/AgroBotTg/pkg/db"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		ratelimit.Module,

		// Services the sweeper settles through
		user.Module,
		rate.Module,
		entitlement.Module,
		gateway.Module,
		userlock.Module,
		payment.Module,

		// No server module
		scheduler.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.SnowflakeNode)
}
