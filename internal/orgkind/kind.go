// Package orgkind declares organization "kinds": independent families of
// organization, member and owner record types that share identical
// relationship wiring but never share storage.
package orgkind

import (
	"fmt"

	"github.com/bwmarrin/snowflake"
)

// Role tags the position a record type occupies inside a kind.
type Role string

const (
	RoleOrganization Role = "organization"
	RoleMember       Role = "member"
	RoleOwner        Role = "owner"
	RoleInvitation   Role = "invitation"
)

// Record is the minimal surface every registered model exposes.
type Record interface {
	GetID() snowflake.ID
	SetID(snowflake.ID)
}

// Tabler mirrors gorm's table naming hook. Every registered model must pin
// its own table so two kinds can never collide on storage.
type Tabler interface {
	TableName() string
}

// Organization is the tenant root of a kind.
type Organization interface {
	Record
	Tabler
	GetName() string
	SetName(string)
	GetSlug() string
	SetSlug(string)
	IsActive() bool
	SetActive(bool)
}

// Member joins one external identity to one organization. The (user,
// organization) pair is unique per kind.
type Member interface {
	Record
	Tabler
	GetOrgID() snowflake.ID
	SetOrgID(snowflake.ID)
	GetUserID() snowflake.ID
	SetUserID(snowflake.ID)
	IsAdmin() bool
	SetAdmin(bool)
}

// Owner marks the single accountable member of an organization.
type Owner interface {
	Record
	Tabler
	GetOrgID() snowflake.ID
	SetOrgID(snowflake.ID)
	GetMemberID() snowflake.ID
	SetMemberID(snowflake.ID)
}

// Invitation is the optional tracked-invite record of a kind.
type Invitation interface {
	Record
	Tabler
	GetOrgID() snowflake.ID
	SetOrgID(snowflake.ID)
	GetGUID() string
	SetGUID(string)
	GetEmail() string
	SetEmail(string)
	GetInvitedByID() snowflake.ID
	SetInvitedByID(snowflake.ID)
	GetInviteeID() *snowflake.ID
	SetInviteeID(snowflake.ID)
}

// Kind is a finalized triple handle. Instances are only produced by a
// Registry once the full organization/member/owner triple has been declared.
type Kind struct {
	namespace string
	name      string

	newOrganization func() Organization
	newMember       func() Member
	newOwner        func() Owner
	newInvitation   func() Invitation

	tables map[Role]string
}

// Namespace returns the declaring namespace.
func (k *Kind) Namespace() string { return k.namespace }

// Name returns the kind name within its namespace.
func (k *Kind) Name() string { return k.name }

// Qualified returns the storage-scoping identifier, e.g. "accounts.account".
func (k *Kind) Qualified() string { return k.namespace + "." + k.name }

// NewOrganization returns a fresh organization record for this kind.
func (k *Kind) NewOrganization() Organization { return k.newOrganization() }

// NewMember returns a fresh member record for this kind.
func (k *Kind) NewMember() Member { return k.newMember() }

// NewOwner returns a fresh owner record for this kind.
func (k *Kind) NewOwner() Owner { return k.newOwner() }

// NewInvitation returns a fresh invitation record, or nil when the kind was
// registered without one.
func (k *Kind) NewInvitation() Invitation {
	if k.newInvitation == nil {
		return nil
	}
	return k.newInvitation()
}

// HasInvitations reports whether the kind tracks modeled invitations.
func (k *Kind) HasInvitations() bool { return k.newInvitation != nil }

// Table returns the storage table bound to the given role.
func (k *Kind) Table(role Role) string { return k.tables[role] }

// Models returns prototype instances for every declared role, in migration
// order (organization first so foreign rows always follow their parent).
func (k *Kind) Models() []any {
	models := []any{k.NewOrganization(), k.NewMember(), k.NewOwner()}
	if k.HasInvitations() {
		models = append(models, k.NewInvitation())
	}
	return models
}

func (k *Kind) String() string {
	return fmt.Sprintf("orgkind.Kind(%s)", k.Qualified())
}
