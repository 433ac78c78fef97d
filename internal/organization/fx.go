package organization

import (
	"github.com/smallbiznis/orgkit/internal/organization/service"
	"go.uber.org/fx"
)

var Module = fx.Module("organization.service",
	fx.Provide(RegisterKind),
	fx.Provide(service.NewService),
)
