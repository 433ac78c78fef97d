package config

import (
	"github.com/smallbiznis/orgkit/pkg/db"
	"go.uber.org/fx"
)

var Module = fx.Module("config",
	fx.Provide(Load),
	fx.Provide(provideDBConfig),
	fx.Provide(NewInvitationPolicyHolder),
)

func provideDBConfig(cfg Config) db.Config {
	return cfg.DB
}
