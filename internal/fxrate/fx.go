package fxrate

import (
	"github.com/smallbiznis/royaltyledger/internal/fxrate/provider"
	"github.com/smallbiznis/royaltyledger/internal/fxrate/service"
	"go.uber.org/fx"
)

var Module = fx.Module("fxrate",
	fx.Provide(
		provider.NewHTTPProvider,
		service.NewService,
	),
)
