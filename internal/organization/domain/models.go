// Package domain contains the persistence models of the default
// organization kind.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Organization represents a tenant of the default kind.
type Organization struct {
	ID        snowflake.ID      `gorm:"primaryKey" json:"id"`
	Name      string            `gorm:"type:text;not null" json:"name"`
	Slug      string            `gorm:"type:text;not null;uniqueIndex:ux_organizations_slug" json:"slug"`
	Active    bool              `gorm:"column:is_active;not null;default:true" json:"is_active"`
	Metadata  datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'" json:"metadata"`
	CreatedAt time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Organization) TableName() string { return "organizations" }

func (o *Organization) GetID() snowflake.ID   { return o.ID }
func (o *Organization) SetID(id snowflake.ID) { o.ID = id }
func (o *Organization) GetName() string       { return o.Name }
func (o *Organization) SetName(name string)   { o.Name = name }
func (o *Organization) GetSlug() string       { return o.Slug }
func (o *Organization) SetSlug(s string)      { o.Slug = s }
func (o *Organization) IsActive() bool        { return o.Active }
func (o *Organization) SetActive(active bool) { o.Active = active }

// OrganizationMember links one user to one organization. The pair is unique.
type OrganizationMember struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	OrgID     snowflake.ID `gorm:"not null;index;uniqueIndex:ux_org_member,priority:1" json:"org_id"`
	UserID    snowflake.ID `gorm:"not null;index;uniqueIndex:ux_org_member,priority:2" json:"user_id"`
	Admin     bool         `gorm:"column:is_admin;not null" json:"is_admin"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (OrganizationMember) TableName() string { return "organization_members" }

func (m *OrganizationMember) GetID() snowflake.ID       { return m.ID }
func (m *OrganizationMember) SetID(id snowflake.ID)     { m.ID = id }
func (m *OrganizationMember) GetOrgID() snowflake.ID    { return m.OrgID }
func (m *OrganizationMember) SetOrgID(id snowflake.ID)  { m.OrgID = id }
func (m *OrganizationMember) GetUserID() snowflake.ID   { return m.UserID }
func (m *OrganizationMember) SetUserID(id snowflake.ID) { m.UserID = id }
func (m *OrganizationMember) IsAdmin() bool             { return m.Admin }
func (m *OrganizationMember) SetAdmin(admin bool)       { m.Admin = admin }

// OrganizationOwner marks the single accountable member of an organization.
type OrganizationOwner struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	OrgID     snowflake.ID `gorm:"not null;uniqueIndex:ux_org_owner" json:"org_id"`
	MemberID  snowflake.ID `gorm:"not null" json:"member_id"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (OrganizationOwner) TableName() string { return "organization_owners" }

func (o *OrganizationOwner) GetID() snowflake.ID         { return o.ID }
func (o *OrganizationOwner) SetID(id snowflake.ID)       { o.ID = id }
func (o *OrganizationOwner) GetOrgID() snowflake.ID      { return o.OrgID }
func (o *OrganizationOwner) SetOrgID(id snowflake.ID)    { o.OrgID = id }
func (o *OrganizationOwner) GetMemberID() snowflake.ID   { return o.MemberID }
func (o *OrganizationOwner) SetMemberID(id snowflake.ID) { o.MemberID = id }

// OrganizationInvitation tracks a pending modeled invite to an organization.
// InviteeID stays null until the invite is claimed.
type OrganizationInvitation struct {
	ID          snowflake.ID  `gorm:"primaryKey" json:"id"`
	OrgID       snowflake.ID  `gorm:"not null;index" json:"org_id"`
	GUID        string        `gorm:"type:text;not null;uniqueIndex:ux_org_invitation_guid" json:"guid"`
	Email       string        `gorm:"type:text;not null" json:"email"`
	InvitedByID snowflake.ID  `gorm:"column:invited_by_id;not null;index" json:"invited_by_id"`
	InviteeID   *snowflake.ID `gorm:"column:invitee_id" json:"invitee_id"`
	CreatedAt   time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt   time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (OrganizationInvitation) TableName() string { return "organization_invitations" }

func (i *OrganizationInvitation) GetID() snowflake.ID            { return i.ID }
func (i *OrganizationInvitation) SetID(id snowflake.ID)          { i.ID = id }
func (i *OrganizationInvitation) GetOrgID() snowflake.ID         { return i.OrgID }
func (i *OrganizationInvitation) SetOrgID(id snowflake.ID)       { i.OrgID = id }
func (i *OrganizationInvitation) GetGUID() string                { return i.GUID }
func (i *OrganizationInvitation) SetGUID(guid string)            { i.GUID = guid }
func (i *OrganizationInvitation) GetEmail() string               { return i.Email }
func (i *OrganizationInvitation) SetEmail(email string)          { i.Email = email }
func (i *OrganizationInvitation) GetInvitedByID() snowflake.ID   { return i.InvitedByID }
func (i *OrganizationInvitation) SetInvitedByID(id snowflake.ID) { i.InvitedByID = id }
func (i *OrganizationInvitation) GetInviteeID() *snowflake.ID    { return i.InviteeID }
func (i *OrganizationInvitation) SetInviteeID(id snowflake.ID)   { i.InviteeID = &id }
