package pipeline

import (
	"github.com/smallbiznis/royaltyledger/internal/pipeline/service"
	"go.uber.org/fx"
)

var Module = fx.Module("pipeline.service",
	fx.Provide(service.NewService),
)
