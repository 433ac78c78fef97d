package invitation

import (
	"go.uber.org/fx"
)

var Module = fx.Module("invitation.backends",
	fx.Provide(NewRegistrationBackend),
	fx.Provide(NewModelBackend),
)
