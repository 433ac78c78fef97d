// Package membership is the sole mutation path for organization membership
// and ownership. It operates uniformly over every kind declared in an
// orgkind.Registry and enforces the ownership invariants: once an
// organization has a member it has exactly one owner, the owner is always one
// of its own members, and the owner's member record cannot be removed without
// transferring ownership first.
package membership

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/orgkit/internal/clock"
	"github.com/smallbiznis/orgkit/internal/orgkind"
	"github.com/smallbiznis/orgkit/pkg/db"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrOwnershipRequired rejects removal of the current owner's member
	// record. Transfer ownership first, or delete the whole organization.
	ErrOwnershipRequired = errors.New("membership: cannot remove the organization owner before transferring ownership")
	// ErrOrganizationMismatch rejects an owner whose member belongs to a
	// different organization.
	ErrOrganizationMismatch = errors.New("membership: owner's member belongs to a different organization")
	// ErrMemberExists surfaces the unique (user, organization) constraint,
	// including the race between concurrent get-or-add calls.
	ErrMemberExists = errors.New("membership: member already exists")
	ErrMemberNotFound       = errors.New("membership: member not found")
	ErrOrganizationNotFound = errors.New("membership: organization not found")
	ErrOwnerNotFound        = errors.New("membership: organization has no owner")
)

// Engine executes membership mutations inside single transactions and emits
// lifecycle events after commit.
type Engine struct {
	db       *gorm.DB
	registry *orgkind.Registry
	genID    *snowflake.Node
	clock    clock.Clock
	events   *Dispatcher
	log      *zap.Logger
}

// NewEngine builds the engine. The registry decides which kinds the engine
// can operate on; the dispatcher receives every emitted event.
func NewEngine(conn *gorm.DB, registry *orgkind.Registry, genID *snowflake.Node, clk clock.Clock, events *Dispatcher, log *zap.Logger) *Engine {
	return &Engine{
		db:       conn,
		registry: registry,
		genID:    genID,
		clock:    clk,
		events:   events,
		log:      log,
	}
}

// Registry exposes the kind registry the engine was built with.
func (e *Engine) Registry() *orgkind.Registry { return e.registry }

// Events exposes the dispatcher for observer registration.
func (e *Engine) Events() *Dispatcher { return e.events }

func (e *Engine) kindOf(instance any, want orgkind.Role) (*orgkind.Kind, error) {
	kind, role, err := e.registry.KindOf(instance)
	if err != nil {
		return nil, err
	}
	if role != want {
		return nil, fmt.Errorf("membership: expected a %s record, got a %s of kind %s", want, role, kind.Qualified())
	}
	return kind, nil
}

// lockOrganization serializes mutations per organization by locking its row.
// sqlite has no row locks; its single-writer model serializes for us.
func lockOrganization(tx *gorm.DB, kind *orgkind.Kind, orgID snowflake.ID) error {
	locked := kind.NewOrganization()
	q := tx
	if tx.Dialector.Name() != "sqlite" {
		q = tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	err := q.First(locked, "id = ?", orgID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrOrganizationNotFound
	}
	return err
}

// CreateOrganization persists a new organization together with its first
// member and owner, atomically. The founding member is always an admin.
func (e *Engine) CreateOrganization(ctx context.Context, org orgkind.Organization, founderID snowflake.ID) (orgkind.Member, error) {
	kind, err := e.kindOf(org, orgkind.RoleOrganization)
	if err != nil {
		return nil, err
	}

	if org.GetID() == 0 {
		org.SetID(e.genID.Generate())
	}

	var member orgkind.Member
	err = e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(org).Error; err != nil {
			return err
		}
		created, err := e.createMember(ctx, tx, kind, org.GetID(), founderID, true, true)
		if err != nil {
			return err
		}
		member = created
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.emit(ctx, Event{Type: MemberAdded, Kind: kind, OrgID: org.GetID(), Member: member, At: e.clock.Now()})
	return member, nil
}

// AddMember creates a member for the identity. The organization's first
// member is forced to admin and becomes the owner in the same transaction.
func (e *Engine) AddMember(ctx context.Context, org orgkind.Organization, userID snowflake.ID, isAdmin bool) (orgkind.Member, error) {
	kind, err := e.kindOf(org, orgkind.RoleOrganization)
	if err != nil {
		return nil, err
	}

	var member orgkind.Member
	err = e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockOrganization(tx, kind, org.GetID()); err != nil {
			return err
		}

		first, err := e.hasNoMembers(tx, kind, org.GetID())
		if err != nil {
			return err
		}

		created, err := e.createMember(ctx, tx, kind, org.GetID(), userID, isAdmin || first, first)
		if err != nil {
			return err
		}
		member = created
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.emit(ctx, Event{Type: MemberAdded, Kind: kind, OrgID: org.GetID(), Member: member, At: e.clock.Now()})
	return member, nil
}

// GetOrAddMember is the idempotent variant of AddMember. It reports whether
// a record was actually created; member_added only fires for new records.
func (e *Engine) GetOrAddMember(ctx context.Context, org orgkind.Organization, userID snowflake.ID, isAdmin bool) (orgkind.Member, bool, error) {
	kind, err := e.kindOf(org, orgkind.RoleOrganization)
	if err != nil {
		return nil, false, err
	}

	var member orgkind.Member
	var created bool
	err = e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockOrganization(tx, kind, org.GetID()); err != nil {
			return err
		}

		existing := kind.NewMember()
		err := tx.First(existing, "org_id = ? AND user_id = ?", org.GetID(), userID).Error
		if err == nil {
			member = existing
			created = false
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		first, err := e.hasNoMembers(tx, kind, org.GetID())
		if err != nil {
			return err
		}
		added, err := e.createMember(ctx, tx, kind, org.GetID(), userID, isAdmin || first, first)
		if err != nil {
			return err
		}
		member = added
		created = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	if created {
		e.emit(ctx, Event{Type: MemberAdded, Kind: kind, OrgID: org.GetID(), Member: member, At: e.clock.Now()})
	}
	return member, created, nil
}

// RemoveMember deletes the identity's member record. Removing the current
// owner fails with ErrOwnershipRequired; deleting the whole organization is
// the only path that removes an owner's member.
func (e *Engine) RemoveMember(ctx context.Context, org orgkind.Organization, userID snowflake.ID) error {
	kind, err := e.kindOf(org, orgkind.RoleOrganization)
	if err != nil {
		return err
	}

	var removed orgkind.Member
	err = e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockOrganization(tx, kind, org.GetID()); err != nil {
			return err
		}

		member := kind.NewMember()
		err := tx.First(member, "org_id = ? AND user_id = ?", org.GetID(), userID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrMemberNotFound
		}
		if err != nil {
			return err
		}

		owner := kind.NewOwner()
		err = tx.First(owner, "org_id = ?", org.GetID()).Error
		if err == nil && owner.GetMemberID() == member.GetID() {
			return ErrOwnershipRequired
		}
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		if err := tx.Delete(member).Error; err != nil {
			return err
		}
		removed = member
		return nil
	})
	if err != nil {
		return err
	}

	e.emit(ctx, Event{Type: MemberRemoved, Kind: kind, OrgID: org.GetID(), Member: removed, At: e.clock.Now()})
	return nil
}

// ChangeOwner reassigns the owner record to another member of the same
// organization. This is the only sanctioned way to move ownership.
func (e *Engine) ChangeOwner(ctx context.Context, org orgkind.Organization, newMember orgkind.Member) error {
	kind, err := e.kindOf(org, orgkind.RoleOrganization)
	if err != nil {
		return err
	}
	if _, err := e.kindOf(newMember, orgkind.RoleMember); err != nil {
		return err
	}
	if newMember.GetOrgID() != org.GetID() {
		return ErrOrganizationMismatch
	}

	var oldMember orgkind.Member
	err = e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockOrganization(tx, kind, org.GetID()); err != nil {
			return err
		}

		owner := kind.NewOwner()
		err := tx.First(owner, "org_id = ?", org.GetID()).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrOwnerNotFound
		}
		if err != nil {
			return err
		}

		previous := kind.NewMember()
		if err := tx.First(previous, "id = ?", owner.GetMemberID()).Error; err == nil {
			oldMember = previous
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		owner.SetMemberID(newMember.GetID())
		return e.saveOwner(tx, kind, owner)
	})
	if err != nil {
		return err
	}

	e.emit(ctx, Event{
		Type:      OwnerChanged,
		Kind:      kind,
		OrgID:     org.GetID(),
		OldMember: oldMember,
		NewMember: newMember,
		At:        e.clock.Now(),
	})
	return nil
}

// DeleteOrganization removes the organization and cascades to its owner,
// members and invitations. The ownership guard does not apply; the owner is
// destroyed together with everything else. Underlying identities survive.
func (e *Engine) DeleteOrganization(ctx context.Context, org orgkind.Organization) error {
	kind, err := e.kindOf(org, orgkind.RoleOrganization)
	if err != nil {
		return err
	}

	return e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockOrganization(tx, kind, org.GetID()); err != nil {
			return err
		}

		if kind.HasInvitations() {
			if err := tx.Where("org_id = ?", org.GetID()).Delete(kind.NewInvitation()).Error; err != nil {
				return err
			}
		}
		if err := tx.Where("org_id = ?", org.GetID()).Delete(kind.NewOwner()).Error; err != nil {
			return err
		}
		if err := tx.Where("org_id = ?", org.GetID()).Delete(kind.NewMember()).Error; err != nil {
			return err
		}
		return tx.Delete(org).Error
	})
}

// MemberOf returns the member record linking the identity to the
// organization, or ErrMemberNotFound.
func (e *Engine) MemberOf(ctx context.Context, org orgkind.Organization, userID snowflake.ID) (orgkind.Member, error) {
	kind, err := e.kindOf(org, orgkind.RoleOrganization)
	if err != nil {
		return nil, err
	}
	member := kind.NewMember()
	err = e.db.WithContext(ctx).First(member, "org_id = ? AND user_id = ?", org.GetID(), userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrMemberNotFound
	}
	if err != nil {
		return nil, err
	}
	return member, nil
}

// OwnerOf returns the organization's owner record, or ErrOwnerNotFound.
func (e *Engine) OwnerOf(ctx context.Context, org orgkind.Organization) (orgkind.Owner, error) {
	kind, err := e.kindOf(org, orgkind.RoleOrganization)
	if err != nil {
		return nil, err
	}
	owner := kind.NewOwner()
	err = e.db.WithContext(ctx).First(owner, "org_id = ?", org.GetID()).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrOwnerNotFound
	}
	if err != nil {
		return nil, err
	}
	return owner, nil
}

// IsMember reports whether the identity belongs to the organization.
func (e *Engine) IsMember(ctx context.Context, org orgkind.Organization, userID snowflake.ID) (bool, error) {
	_, err := e.MemberOf(ctx, org, userID)
	if errors.Is(err, ErrMemberNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// IsAdmin reports whether the identity is an admin member.
func (e *Engine) IsAdmin(ctx context.Context, org orgkind.Organization, userID snowflake.ID) (bool, error) {
	member, err := e.MemberOf(ctx, org, userID)
	if errors.Is(err, ErrMemberNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return member.IsAdmin(), nil
}

// IsOwner reports whether the identity is the organization's owner.
func (e *Engine) IsOwner(ctx context.Context, org orgkind.Organization, userID snowflake.ID) (bool, error) {
	member, err := e.MemberOf(ctx, org, userID)
	if errors.Is(err, ErrMemberNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	owner, err := e.OwnerOf(ctx, org)
	if errors.Is(err, ErrOwnerNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return owner.GetMemberID() == member.GetID(), nil
}

// GetOrganization loads one organization of the given kind by id.
func (e *Engine) GetOrganization(ctx context.Context, kind *orgkind.Kind, id snowflake.ID) (orgkind.Organization, error) {
	org := kind.NewOrganization()
	err := e.db.WithContext(ctx).First(org, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrOrganizationNotFound
	}
	if err != nil {
		return nil, err
	}
	return org, nil
}

// MembersOf lists the organization's member records.
func (e *Engine) MembersOf(ctx context.Context, org orgkind.Organization) ([]orgkind.Member, error) {
	kind, err := e.kindOf(org, orgkind.RoleOrganization)
	if err != nil {
		return nil, err
	}

	var ids []snowflake.ID
	if err := e.db.WithContext(ctx).
		Table(kind.Table(orgkind.RoleMember)).
		Where("org_id = ?", org.GetID()).
		Order("id").
		Pluck("id", &ids).Error; err != nil {
		return nil, err
	}

	members := make([]orgkind.Member, 0, len(ids))
	for _, id := range ids {
		member := kind.NewMember()
		if err := e.db.WithContext(ctx).First(member, "id = ?", id).Error; err != nil {
			return nil, err
		}
		members = append(members, member)
	}
	return members, nil
}

// OrganizationsOf lists organizations of a kind the identity belongs to, in
// creation order.
func (e *Engine) OrganizationsOf(ctx context.Context, kind *orgkind.Kind, userID snowflake.ID) ([]orgkind.Organization, error) {
	var ids []snowflake.ID
	err := e.db.WithContext(ctx).
		Table(kind.Table(orgkind.RoleMember)).
		Where("user_id = ?", userID).
		Order("org_id").
		Pluck("org_id", &ids).Error
	if err != nil {
		return nil, err
	}

	orgs := make([]orgkind.Organization, 0, len(ids))
	for _, id := range ids {
		org, err := e.GetOrganization(ctx, kind, id)
		if err != nil {
			return nil, err
		}
		orgs = append(orgs, org)
	}
	return orgs, nil
}

func (e *Engine) hasNoMembers(tx *gorm.DB, kind *orgkind.Kind, orgID snowflake.ID) (bool, error) {
	var count int64
	err := tx.Table(kind.Table(orgkind.RoleMember)).
		Where("org_id = ?", orgID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count == 0, nil
}

// createMember inserts the member row, plus the owner row when it is the
// organization's first. Both writes share the caller's transaction.
func (e *Engine) createMember(ctx context.Context, tx *gorm.DB, kind *orgkind.Kind, orgID, userID snowflake.ID, isAdmin, first bool) (orgkind.Member, error) {
	member := kind.NewMember()
	member.SetID(e.genID.Generate())
	member.SetOrgID(orgID)
	member.SetUserID(userID)
	member.SetAdmin(isAdmin)

	if err := tx.Create(member).Error; err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, ErrMemberExists
		}
		return nil, err
	}

	if first {
		owner := kind.NewOwner()
		owner.SetID(e.genID.Generate())
		owner.SetOrgID(orgID)
		owner.SetMemberID(member.GetID())
		if err := e.saveOwner(tx, kind, owner); err != nil {
			return nil, err
		}
	}
	return member, nil
}

// saveOwner re-validates the cross-organization invariant on every owner
// write, whatever path produced the record.
func (e *Engine) saveOwner(tx *gorm.DB, kind *orgkind.Kind, owner orgkind.Owner) error {
	member := kind.NewMember()
	err := tx.First(member, "id = ?", owner.GetMemberID()).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrMemberNotFound
	}
	if err != nil {
		return err
	}
	if member.GetOrgID() != owner.GetOrgID() {
		return ErrOrganizationMismatch
	}
	return tx.Save(owner).Error
}

func (e *Engine) emit(ctx context.Context, ev Event) {
	if e.events == nil {
		return
	}
	e.events.dispatch(ctx, ev)
}
