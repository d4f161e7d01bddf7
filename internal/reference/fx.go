package reference

import (
	"github.com/smallbiznis/royaltyledger/internal/reference/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("reference",
	fx.Provide(
		NewRepository,
		NewRegistry,
		func(r *Registry) domain.Registry { return r },
	),
)
