package revenue

import (
	"github.com/smallbiznis/royaltyledger/internal/revenue/service"
	"go.uber.org/fx"
)

var Module = fx.Module("revenue.service",
	fx.Provide(
		service.NewNormalizer,
		service.NewWriter,
	),
)
