package sourcefile

import (
	"github.com/smallbiznis/royaltyledger/internal/sourcefile/service"
	"go.uber.org/fx"
)

var Module = fx.Module("sourcefile.service",
	fx.Provide(service.NewService),
)
