package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/smallbiznis/orgkit/internal/membership"
	"github.com/smallbiznis/orgkit/internal/organization/domain"
	"github.com/smallbiznis/orgkit/internal/orgkind"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type service struct {
	db     *gorm.DB
	engine *membership.Engine
	kind   *orgkind.Kind
	log    *zap.Logger
}

func NewService(db *gorm.DB, engine *membership.Engine, kind *orgkind.Kind, log *zap.Logger) domain.Service {
	return &service{
		db:     db,
		engine: engine,
		kind:   kind,
		log:    log,
	}
}

func (s *service) Create(ctx context.Context, userID snowflake.ID, req domain.CreateOrganizationRequest) (*domain.OrganizationResponse, error) {
	if userID == 0 {
		return nil, domain.ErrInvalidUser
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.ErrInvalidName
	}

	uniqued, err := s.uniqueSlug(ctx, slug.Make(name), 0)
	if err != nil {
		return nil, err
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}
	org := &domain.Organization{
		Name:   name,
		Slug:   uniqued,
		Active: active,
	}
	if _, err := s.engine.CreateOrganization(ctx, org, userID); err != nil {
		return nil, err
	}

	s.log.Info("organization created",
		zap.String("org_id", org.ID.String()),
		zap.String("slug", org.Slug),
	)
	return response(org), nil
}

func (s *service) GetByID(ctx context.Context, id string) (*domain.OrganizationResponse, error) {
	org, err := s.resolve(ctx, id)
	if err != nil {
		return nil, err
	}
	return response(org), nil
}

func (s *service) GetBySlug(ctx context.Context, slugName string) (*domain.OrganizationResponse, error) {
	slugName = strings.TrimSpace(slugName)
	if slugName == "" {
		return nil, domain.ErrInvalidOrganization
	}
	var org domain.Organization
	err := s.db.WithContext(ctx).First(&org, "slug = ?", slugName).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return response(&org), nil
}

func (s *service) ListByUser(ctx context.Context, userID snowflake.ID) ([]domain.OrganizationListResponseItem, error) {
	if userID == 0 {
		return nil, domain.ErrInvalidUser
	}
	orgs, err := s.engine.OrganizationsOf(ctx, s.kind, userID)
	if err != nil {
		return nil, err
	}

	items := make([]domain.OrganizationListResponseItem, 0, len(orgs))
	for _, org := range orgs {
		member, err := s.engine.MemberOf(ctx, org, userID)
		if err != nil {
			return nil, err
		}
		isOwner, err := s.engine.IsOwner(ctx, org, userID)
		if err != nil {
			return nil, err
		}
		items = append(items, domain.OrganizationListResponseItem{
			ID:       org.GetID().String(),
			Name:     org.GetName(),
			Slug:     org.GetSlug(),
			IsActive: org.IsActive(),
			IsAdmin:  member.IsAdmin(),
			IsOwner:  isOwner,
		})
	}
	return items, nil
}

func (s *service) Rename(ctx context.Context, userID snowflake.ID, orgID string, name string) (*domain.OrganizationResponse, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domain.ErrInvalidName
	}
	org, err := s.resolve(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if err := s.requireAdmin(ctx, org, userID); err != nil {
		return nil, err
	}

	uniqued, err := s.uniqueSlug(ctx, slug.Make(name), org.ID)
	if err != nil {
		return nil, err
	}
	org.Name = name
	org.Slug = uniqued
	if err := s.db.WithContext(ctx).Save(org).Error; err != nil {
		return nil, err
	}
	return response(org), nil
}

func (s *service) SetActive(ctx context.Context, userID snowflake.ID, orgID string, active bool) error {
	org, err := s.resolve(ctx, orgID)
	if err != nil {
		return err
	}
	if err := s.requireAdmin(ctx, org, userID); err != nil {
		return err
	}
	org.Active = active
	return s.db.WithContext(ctx).Save(org).Error
}

func (s *service) Delete(ctx context.Context, userID snowflake.ID, orgID string) error {
	org, err := s.resolve(ctx, orgID)
	if err != nil {
		return err
	}
	if err := s.requireOwner(ctx, org, userID); err != nil {
		return err
	}
	if err := s.engine.DeleteOrganization(ctx, org); err != nil {
		return err
	}
	s.log.Info("organization deleted", zap.String("org_id", org.ID.String()))
	return nil
}

func (s *service) AddMember(ctx context.Context, actorID snowflake.ID, orgID string, userID snowflake.ID, isAdmin bool) (*domain.MemberResponse, error) {
	if userID == 0 {
		return nil, domain.ErrInvalidUser
	}
	org, err := s.resolve(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if err := s.requireAdmin(ctx, org, actorID); err != nil {
		return nil, err
	}

	member, err := s.engine.AddMember(ctx, org, userID, isAdmin)
	if err != nil {
		return nil, err
	}
	return &domain.MemberResponse{
		ID:      member.GetID().String(),
		UserID:  member.GetUserID().String(),
		IsAdmin: member.IsAdmin(),
	}, nil
}

func (s *service) RemoveMember(ctx context.Context, actorID snowflake.ID, orgID string, userID snowflake.ID) error {
	org, err := s.resolve(ctx, orgID)
	if err != nil {
		return err
	}
	// Members may leave on their own; removing anyone else takes admin.
	if actorID != userID {
		if err := s.requireAdmin(ctx, org, actorID); err != nil {
			return err
		}
	}
	return s.engine.RemoveMember(ctx, org, userID)
}

func (s *service) ListMembers(ctx context.Context, actorID snowflake.ID, orgID string) ([]domain.MemberResponse, error) {
	org, err := s.resolve(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if err := s.requireMember(ctx, org, actorID); err != nil {
		return nil, err
	}

	members, err := s.engine.MembersOf(ctx, org)
	if err != nil {
		return nil, err
	}
	owner, err := s.engine.OwnerOf(ctx, org)
	if err != nil && !errors.Is(err, membership.ErrOwnerNotFound) {
		return nil, err
	}

	resp := make([]domain.MemberResponse, 0, len(members))
	for _, member := range members {
		resp = append(resp, domain.MemberResponse{
			ID:      member.GetID().String(),
			UserID:  member.GetUserID().String(),
			IsAdmin: member.IsAdmin(),
			IsOwner: owner != nil && owner.GetMemberID() == member.GetID(),
		})
	}
	return resp, nil
}

func (s *service) TransferOwnership(ctx context.Context, actorID snowflake.ID, orgID string, newOwnerUserID snowflake.ID) error {
	org, err := s.resolve(ctx, orgID)
	if err != nil {
		return err
	}
	if err := s.requireOwner(ctx, org, actorID); err != nil {
		return err
	}
	member, err := s.engine.MemberOf(ctx, org, newOwnerUserID)
	if err != nil {
		return err
	}
	return s.engine.ChangeOwner(ctx, org, member)
}

func (s *service) resolve(ctx context.Context, id string) (*domain.Organization, error) {
	raw := strings.TrimSpace(id)
	if raw == "" {
		return nil, domain.ErrInvalidOrganization
	}
	orgID, err := snowflake.ParseString(raw)
	if err != nil {
		return nil, domain.ErrInvalidOrganization
	}
	org, err := s.engine.GetOrganization(ctx, s.kind, orgID)
	if errors.Is(err, membership.ErrOrganizationNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return org.(*domain.Organization), nil
}

func (s *service) requireMember(ctx context.Context, org *domain.Organization, userID snowflake.ID) error {
	ok, err := s.engine.IsMember(ctx, org, userID)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrForbidden
	}
	return nil
}

func (s *service) requireAdmin(ctx context.Context, org *domain.Organization, userID snowflake.ID) error {
	ok, err := s.engine.IsAdmin(ctx, org, userID)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrForbidden
	}
	return nil
}

func (s *service) requireOwner(ctx context.Context, org *domain.Organization, userID snowflake.ID) error {
	ok, err := s.engine.IsOwner(ctx, org, userID)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrForbidden
	}
	return nil
}

// uniqueSlug appends a numeric suffix until the slug is free. excludeID
// skips the organization being renamed.
func (s *service) uniqueSlug(ctx context.Context, base string, excludeID snowflake.ID) (string, error) {
	candidate := base
	for n := 2; ; n++ {
		var count int64
		q := s.db.WithContext(ctx).Model(&domain.Organization{}).Where("slug = ?", candidate)
		if excludeID != 0 {
			q = q.Where("id <> ?", excludeID)
		}
		if err := q.Count(&count).Error; err != nil {
			return "", err
		}
		if count == 0 {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s-%d", base, n)
	}
}

func response(org *domain.Organization) *domain.OrganizationResponse {
	return &domain.OrganizationResponse{
		ID:       org.ID.String(),
		Name:     org.Name,
		Slug:     org.Slug,
		IsActive: org.Active,
		Created:  org.CreatedAt,
	}
}
