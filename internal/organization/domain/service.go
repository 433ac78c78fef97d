package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

type Service interface {
	Create(ctx context.Context, userID snowflake.ID, req CreateOrganizationRequest) (*OrganizationResponse, error)
	GetByID(ctx context.Context, id string) (*OrganizationResponse, error)
	GetBySlug(ctx context.Context, slug string) (*OrganizationResponse, error)
	ListByUser(ctx context.Context, userID snowflake.ID) ([]OrganizationListResponseItem, error)
	Rename(ctx context.Context, userID snowflake.ID, orgID string, name string) (*OrganizationResponse, error)
	SetActive(ctx context.Context, userID snowflake.ID, orgID string, active bool) error
	Delete(ctx context.Context, userID snowflake.ID, orgID string) error

	AddMember(ctx context.Context, actorID snowflake.ID, orgID string, userID snowflake.ID, isAdmin bool) (*MemberResponse, error)
	RemoveMember(ctx context.Context, actorID snowflake.ID, orgID string, userID snowflake.ID) error
	ListMembers(ctx context.Context, actorID snowflake.ID, orgID string) ([]MemberResponse, error)
	TransferOwnership(ctx context.Context, actorID snowflake.ID, orgID string, newOwnerUserID snowflake.ID) error
}

type CreateOrganizationRequest struct {
	Name   string
	Active *bool
}

type OrganizationResponse struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Slug     string    `json:"slug"`
	IsActive bool      `json:"is_active"`
	Created  time.Time `json:"created_at"`
}

type OrganizationListResponseItem struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Slug     string `json:"slug"`
	IsActive bool   `json:"is_active"`
	IsAdmin  bool   `json:"is_admin"`
	IsOwner  bool   `json:"is_owner"`
}

type MemberResponse struct {
	ID      string `json:"id"`
	UserID  string `json:"user_id"`
	IsAdmin bool   `json:"is_admin"`
	IsOwner bool   `json:"is_owner"`
}

var (
	ErrInvalidName         = errors.New("invalid_name")
	ErrInvalidUser         = errors.New("invalid_user")
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrNotFound            = errors.New("organization_not_found")
	ErrForbidden           = errors.New("forbidden")
)
