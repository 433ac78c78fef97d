package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/orgkit/internal/clock"
	"github.com/smallbiznis/orgkit/internal/config"
	"github.com/smallbiznis/orgkit/internal/identity"
	"github.com/smallbiznis/orgkit/internal/invitation"
	"github.com/smallbiznis/orgkit/internal/membership"
	"github.com/smallbiznis/orgkit/internal/migration"
	"github.com/smallbiznis/orgkit/internal/observability"
	"github.com/smallbiznis/orgkit/internal/organization"
	"github.com/smallbiznis/orgkit/internal/orgkind"
	"github.com/smallbiznis/orgkit/internal/orgtoken"
	"github.com/smallbiznis/orgkit/internal/providers"
	"github.com/smallbiznis/orgkit/internal/ratelimit"
	"github.com/smallbiznis/orgkit/internal/server"
	"github.com/smallbiznis/orgkit/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,

		// Domain
		orgkind.Module,
		identity.Module,
		membership.Module,
		organization.Module,
		orgtoken.Module,
		providers.Module,
		ratelimit.Module,
		invitation.Module,

		migration.Module,
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
