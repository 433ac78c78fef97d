package orgkind

import (
	"go.uber.org/fx"
)

var Module = fx.Module("orgkind.registry",
	fx.Provide(NewRegistry),
)
