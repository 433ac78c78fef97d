package orgtoken

import (
	"time"

	"github.com/smallbiznis/orgkit/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("orgtoken",
	fx.Provide(provideConfig),
	fx.Provide(New),
)

func provideConfig(cfg config.Config) Config {
	return Config{
		Secret: cfg.TokenSecret,
		TTL:    time.Duration(cfg.TokenTTLHours) * time.Hour,
	}
}
