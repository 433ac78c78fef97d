package migration

import (
	"github.com/smallbiznis/orgkit/internal/config"
	identitydomain "github.com/smallbiznis/orgkit/internal/identity/domain"
	"github.com/smallbiznis/orgkit/internal/membership"
	"github.com/smallbiznis/orgkit/internal/orgkind"
	"github.com/smallbiznis/orgkit/internal/seed"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, registry *orgkind.Registry, engine *membership.Engine, kind *orgkind.Kind) error {
		if cfg.DB.Type == "postgres" {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			if err := RunMigrations(sqlDB); err != nil {
				return err
			}
		}

		// Embedded migrations only cover the default kind. Host-registered
		// kinds and non-postgres databases get their tables from the models.
		if err := conn.AutoMigrate(&identitydomain.User{}, &identitydomain.Session{}, &membership.OrgEvent{}); err != nil {
			return err
		}
		for _, k := range registry.Kinds() {
			if err := conn.AutoMigrate(k.Models()...); err != nil {
				return err
			}
		}

		return seed.EnsureDefaultOrgAndAdmin(conn, engine, kind)
	}),
)
