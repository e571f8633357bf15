package interaction

import "go.uber.org/fx"

var Module = fx.Module("interaction.dispatcher",
	fx.Provide(New),
)
