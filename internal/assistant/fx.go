package assistant

import "go.uber.org/fx"

var Module = fx.Module("assistant.client",
	fx.Provide(New),
)
