package payout

import (
	"github.com/smallbiznis/royaltyledger/internal/payout/service"
	"go.uber.org/fx"
)

var Module = fx.Module("payout.service",
	fx.Provide(service.NewService),
)
