// Package seed bootstraps a default organization and admin identity so a
// fresh install is usable without manual setup.
package seed

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	identitydomain "github.com/smallbiznis/orgkit/internal/identity/domain"
	"github.com/smallbiznis/orgkit/internal/identity/password"
	"github.com/smallbiznis/orgkit/internal/membership"
	"github.com/smallbiznis/orgkit/internal/orgkind"
	"gorm.io/gorm"
)

const (
	defaultOrgName       = "Main"
	defaultOrgSlug       = "main"
	defaultAdminUsername = "admin"
	defaultAdminEmail    = "admin@localhost"
	defaultAdminPassword = "admin"
)

// EnsureDefaultOrgAndAdmin seeds the default organization of the default
// kind with an active admin owner. Both writes are idempotent.
func EnsureDefaultOrgAndAdmin(conn *gorm.DB, engine *membership.Engine, kind *orgkind.Kind) error {
	if conn == nil {
		return errors.New("seed database handle is required")
	}
	if engine == nil || kind == nil {
		return errors.New("seed membership engine and kind are required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()

	admin, err := ensureAdmin(ctx, conn, node)
	if err != nil {
		return err
	}
	return ensureOrg(ctx, conn, engine, kind, admin)
}

func ensureAdmin(ctx context.Context, conn *gorm.DB, node *snowflake.Node) (*identitydomain.User, error) {
	var admin identitydomain.User
	err := conn.WithContext(ctx).Where("username = ?", defaultAdminUsername).First(&admin).Error
	if err == nil {
		return &admin, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	hash, err := password.Hash(defaultAdminPassword)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	admin = identitydomain.User{
		ID:                  node.Generate(),
		Username:            defaultAdminUsername,
		Email:               defaultAdminEmail,
		PasswordHash:        &hash,
		Active:              true,
		LastPasswordChanged: &now,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := conn.WithContext(ctx).Create(&admin).Error; err != nil {
		return nil, err
	}
	return &admin, nil
}

func ensureOrg(ctx context.Context, conn *gorm.DB, engine *membership.Engine, kind *orgkind.Kind, admin *identitydomain.User) error {
	org := kind.NewOrganization()
	err := conn.WithContext(ctx).
		Table(kind.Table(orgkind.RoleOrganization)).
		Where("slug = ?", defaultOrgSlug).
		First(org).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	org = kind.NewOrganization()
	org.SetName(defaultOrgName)
	org.SetSlug(defaultOrgSlug)
	org.SetActive(true)
	_, err = engine.CreateOrganization(ctx, org, admin.ID)
	return err
}
