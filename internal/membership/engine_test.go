package membership

import (
	"context"
	"errors"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/orgkit/internal/clock"
	"github.com/smallbiznis/orgkit/internal/orgkind"
	"github.com/smallbiznis/orgkit/pkg/db"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type teamOrg struct {
	ID     snowflake.ID `gorm:"column:id;primaryKey"`
	Name   string       `gorm:"column:name"`
	Slug   string       `gorm:"column:slug"`
	Active bool         `gorm:"column:is_active;default:true"`
}

func (teamOrg) TableName() string             { return "eng_teams" }
func (o *teamOrg) GetID() snowflake.ID        { return o.ID }
func (o *teamOrg) SetID(id snowflake.ID)      { o.ID = id }
func (o *teamOrg) GetName() string            { return o.Name }
func (o *teamOrg) SetName(name string)        { o.Name = name }
func (o *teamOrg) GetSlug() string            { return o.Slug }
func (o *teamOrg) SetSlug(slug string)        { o.Slug = slug }
func (o *teamOrg) IsActive() bool             { return o.Active }
func (o *teamOrg) SetActive(active bool)      { o.Active = active }

type teamMember struct {
	ID     snowflake.ID `gorm:"column:id;primaryKey"`
	OrgID  snowflake.ID `gorm:"column:org_id;uniqueIndex:idx_eng_team_member"`
	UserID snowflake.ID `gorm:"column:user_id;uniqueIndex:idx_eng_team_member"`
	Admin  bool         `gorm:"column:is_admin"`
}

func (teamMember) TableName() string          { return "eng_team_members" }
func (m *teamMember) GetID() snowflake.ID     { return m.ID }
func (m *teamMember) SetID(id snowflake.ID)   { m.ID = id }
func (m *teamMember) GetOrgID() snowflake.ID  { return m.OrgID }
func (m *teamMember) SetOrgID(id snowflake.ID) { m.OrgID = id }
func (m *teamMember) GetUserID() snowflake.ID { return m.UserID }
func (m *teamMember) SetUserID(id snowflake.ID) { m.UserID = id }
func (m *teamMember) IsAdmin() bool           { return m.Admin }
func (m *teamMember) SetAdmin(admin bool)     { m.Admin = admin }

type teamOwner struct {
	ID       snowflake.ID `gorm:"column:id;primaryKey"`
	OrgID    snowflake.ID `gorm:"column:org_id;uniqueIndex:idx_eng_team_owner"`
	MemberID snowflake.ID `gorm:"column:member_id"`
}

func (teamOwner) TableName() string             { return "eng_team_owners" }
func (o *teamOwner) GetID() snowflake.ID        { return o.ID }
func (o *teamOwner) SetID(id snowflake.ID)      { o.ID = id }
func (o *teamOwner) GetOrgID() snowflake.ID     { return o.OrgID }
func (o *teamOwner) SetOrgID(id snowflake.ID)   { o.OrgID = id }
func (o *teamOwner) GetMemberID() snowflake.ID  { return o.MemberID }
func (o *teamOwner) SetMemberID(id snowflake.ID) { o.MemberID = id }

type teamInvite struct {
	ID          snowflake.ID  `gorm:"column:id;primaryKey"`
	OrgID       snowflake.ID  `gorm:"column:org_id"`
	GUID        string        `gorm:"column:guid;uniqueIndex:idx_eng_team_invite_guid"`
	Email       string        `gorm:"column:email"`
	InvitedByID snowflake.ID  `gorm:"column:invited_by_id"`
	InviteeID   *snowflake.ID `gorm:"column:invitee_id"`
}

func (teamInvite) TableName() string                { return "eng_team_invitations" }
func (i *teamInvite) GetID() snowflake.ID           { return i.ID }
func (i *teamInvite) SetID(id snowflake.ID)         { i.ID = id }
func (i *teamInvite) GetOrgID() snowflake.ID        { return i.OrgID }
func (i *teamInvite) SetOrgID(id snowflake.ID)      { i.OrgID = id }
func (i *teamInvite) GetGUID() string               { return i.GUID }
func (i *teamInvite) SetGUID(guid string)           { i.GUID = guid }
func (i *teamInvite) GetEmail() string              { return i.Email }
func (i *teamInvite) SetEmail(email string)         { i.Email = email }
func (i *teamInvite) GetInvitedByID() snowflake.ID  { return i.InvitedByID }
func (i *teamInvite) SetInvitedByID(id snowflake.ID) { i.InvitedByID = id }
func (i *teamInvite) GetInviteeID() *snowflake.ID   { return i.InviteeID }
func (i *teamInvite) SetInviteeID(id snowflake.ID)  { i.InviteeID = &id }

type guildOrg struct {
	ID     snowflake.ID `gorm:"column:id;primaryKey"`
	Name   string       `gorm:"column:name"`
	Slug   string       `gorm:"column:slug"`
	Active bool         `gorm:"column:is_active;default:true"`
}

func (guildOrg) TableName() string         { return "eng_guilds" }
func (o *guildOrg) GetID() snowflake.ID    { return o.ID }
func (o *guildOrg) SetID(id snowflake.ID)  { o.ID = id }
func (o *guildOrg) GetName() string        { return o.Name }
func (o *guildOrg) SetName(name string)    { o.Name = name }
func (o *guildOrg) GetSlug() string        { return o.Slug }
func (o *guildOrg) SetSlug(slug string)    { o.Slug = slug }
func (o *guildOrg) IsActive() bool         { return o.Active }
func (o *guildOrg) SetActive(active bool)  { o.Active = active }

type guildMember struct {
	ID     snowflake.ID `gorm:"column:id;primaryKey"`
	OrgID  snowflake.ID `gorm:"column:org_id;uniqueIndex:idx_eng_guild_member"`
	UserID snowflake.ID `gorm:"column:user_id;uniqueIndex:idx_eng_guild_member"`
	Admin  bool         `gorm:"column:is_admin"`
}

func (guildMember) TableName() string            { return "eng_guild_members" }
func (m *guildMember) GetID() snowflake.ID       { return m.ID }
func (m *guildMember) SetID(id snowflake.ID)     { m.ID = id }
func (m *guildMember) GetOrgID() snowflake.ID    { return m.OrgID }
func (m *guildMember) SetOrgID(id snowflake.ID)  { m.OrgID = id }
func (m *guildMember) GetUserID() snowflake.ID   { return m.UserID }
func (m *guildMember) SetUserID(id snowflake.ID) { m.UserID = id }
func (m *guildMember) IsAdmin() bool             { return m.Admin }
func (m *guildMember) SetAdmin(admin bool)       { m.Admin = admin }

type guildOwner struct {
	ID       snowflake.ID `gorm:"column:id;primaryKey"`
	OrgID    snowflake.ID `gorm:"column:org_id;uniqueIndex:idx_eng_guild_owner"`
	MemberID snowflake.ID `gorm:"column:member_id"`
}

func (guildOwner) TableName() string              { return "eng_guild_owners" }
func (o *guildOwner) GetID() snowflake.ID         { return o.ID }
func (o *guildOwner) SetID(id snowflake.ID)       { o.ID = id }
func (o *guildOwner) GetOrgID() snowflake.ID      { return o.OrgID }
func (o *guildOwner) SetOrgID(id snowflake.ID)    { o.OrgID = id }
func (o *guildOwner) GetMemberID() snowflake.ID   { return o.MemberID }
func (o *guildOwner) SetMemberID(id snowflake.ID) { o.MemberID = id }

type testHarness struct {
	engine *Engine
	conn   *gorm.DB
	teams  *orgkind.Kind
	guilds *orgkind.Kind
	genID  *snowflake.Node
	events []Event
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()

	conn, err := db.NewTest()
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}

	registry := orgkind.NewRegistry()
	teams, err := registry.Register(orgkind.Definition{
		Namespace:    "eng",
		Name:         "team",
		Organization: func() orgkind.Organization { return &teamOrg{} },
		Member:       func() orgkind.Member { return &teamMember{} },
		Owner:        func() orgkind.Owner { return &teamOwner{} },
		Invitation:   func() orgkind.Invitation { return &teamInvite{} },
	})
	if err != nil {
		t.Fatalf("register team kind: %v", err)
	}
	guilds, err := registry.Register(orgkind.Definition{
		Namespace:    "eng",
		Name:         "guild",
		Organization: func() orgkind.Organization { return &guildOrg{} },
		Member:       func() orgkind.Member { return &guildMember{} },
		Owner:        func() orgkind.Owner { return &guildOwner{} },
	})
	if err != nil {
		t.Fatalf("register guild kind: %v", err)
	}

	for _, kind := range registry.Kinds() {
		if err := conn.AutoMigrate(kind.Models()...); err != nil {
			t.Fatalf("migrate %s: %v", kind.Qualified(), err)
		}
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}

	h := &testHarness{conn: conn, teams: teams, guilds: guilds, genID: node}
	dispatcher := NewDispatcher()
	for _, typ := range []EventType{MemberAdded, MemberRemoved, OwnerChanged} {
		dispatcher.Subscribe(typ, func(_ context.Context, ev Event) {
			h.events = append(h.events, ev)
		})
	}
	h.engine = NewEngine(conn, registry, node, clock.System(), dispatcher, zap.NewNop())
	return h
}

func (h *testHarness) newTeam(t *testing.T, name string, founderID snowflake.ID) (*teamOrg, orgkind.Member) {
	t.Helper()
	org := &teamOrg{Name: name, Slug: name, Active: true}
	member, err := h.engine.CreateOrganization(context.Background(), org, founderID)
	if err != nil {
		t.Fatalf("create organization %q: %v", name, err)
	}
	return org, member
}

func TestCreateOrganizationSeedsOwnership(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	founderID := h.genID.Generate()

	org, member := h.newTeam(t, "platform", founderID)

	if !member.IsAdmin() {
		t.Fatal("founding member must be an admin")
	}
	if member.GetUserID() != founderID {
		t.Fatalf("member user = %v, want %v", member.GetUserID(), founderID)
	}

	owner, err := h.engine.OwnerOf(ctx, org)
	if err != nil {
		t.Fatalf("owner lookup: %v", err)
	}
	if owner.GetMemberID() != member.GetID() {
		t.Fatalf("owner member = %v, want founding member %v", owner.GetMemberID(), member.GetID())
	}

	if len(h.events) != 1 || h.events[0].Type != MemberAdded {
		t.Fatalf("events = %+v, want one member_added", h.events)
	}
}

func TestFirstAddedMemberBecomesOwner(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	// An organization row created outside the engine still gets its first
	// member promoted to admin and owner atomically.
	org := &teamOrg{ID: h.genID.Generate(), Name: "ops", Slug: "ops", Active: true}
	if err := h.conn.Create(org).Error; err != nil {
		t.Fatalf("seed organization: %v", err)
	}

	member, err := h.engine.AddMember(ctx, org, h.genID.Generate(), false)
	if err != nil {
		t.Fatalf("add first member: %v", err)
	}
	if !member.IsAdmin() {
		t.Fatal("first member must be forced to admin")
	}

	owner, err := h.engine.OwnerOf(ctx, org)
	if err != nil {
		t.Fatalf("owner lookup: %v", err)
	}
	if owner.GetMemberID() != member.GetID() {
		t.Fatal("first member must become owner")
	}

	second, err := h.engine.AddMember(ctx, org, h.genID.Generate(), false)
	if err != nil {
		t.Fatalf("add second member: %v", err)
	}
	if second.IsAdmin() {
		t.Fatal("second member must keep the requested admin flag")
	}
}

func TestAddMemberTwiceConflicts(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	userID := h.genID.Generate()

	org, _ := h.newTeam(t, "data", h.genID.Generate())

	if _, err := h.engine.AddMember(ctx, org, userID, false); err != nil {
		t.Fatalf("add member: %v", err)
	}
	if _, err := h.engine.AddMember(ctx, org, userID, false); !errors.Is(err, ErrMemberExists) {
		t.Fatalf("duplicate add = %v, want ErrMemberExists", err)
	}
}

func TestGetOrAddMemberIsIdempotent(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	userID := h.genID.Generate()

	org, _ := h.newTeam(t, "infra", h.genID.Generate())
	h.events = nil

	first, created, err := h.engine.GetOrAddMember(ctx, org, userID, false)
	if err != nil {
		t.Fatalf("get or add: %v", err)
	}
	if !created {
		t.Fatal("first call must create the member")
	}

	again, created, err := h.engine.GetOrAddMember(ctx, org, userID, true)
	if err != nil {
		t.Fatalf("get or add again: %v", err)
	}
	if created {
		t.Fatal("second call must not create a member")
	}
	if again.GetID() != first.GetID() {
		t.Fatalf("second call returned member %v, want existing %v", again.GetID(), first.GetID())
	}
	if again.IsAdmin() {
		t.Fatal("existing member must be returned as stored, not re-flagged")
	}

	if len(h.events) != 1 {
		t.Fatalf("got %d member_added events, want 1", len(h.events))
	}
}

func TestRemoveOwnerMemberRequiresTransfer(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	founderID := h.genID.Generate()

	org, _ := h.newTeam(t, "core", founderID)
	successor, err := h.engine.AddMember(ctx, org, h.genID.Generate(), true)
	if err != nil {
		t.Fatalf("add successor: %v", err)
	}

	if err := h.engine.RemoveMember(ctx, org, founderID); !errors.Is(err, ErrOwnershipRequired) {
		t.Fatalf("remove owner member = %v, want ErrOwnershipRequired", err)
	}

	if err := h.engine.ChangeOwner(ctx, org, successor); err != nil {
		t.Fatalf("change owner: %v", err)
	}
	if err := h.engine.RemoveMember(ctx, org, founderID); err != nil {
		t.Fatalf("remove former owner after transfer: %v", err)
	}

	ok, err := h.engine.IsMember(ctx, org, founderID)
	if err != nil {
		t.Fatalf("membership check: %v", err)
	}
	if ok {
		t.Fatal("removed member must be gone")
	}
}

func TestChangeOwnerRejectsForeignMember(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	org, _ := h.newTeam(t, "payments", h.genID.Generate())
	other, _ := h.newTeam(t, "risk", h.genID.Generate())
	outsider, err := h.engine.AddMember(ctx, other, h.genID.Generate(), false)
	if err != nil {
		t.Fatalf("add outsider: %v", err)
	}

	if err := h.engine.ChangeOwner(ctx, org, outsider); !errors.Is(err, ErrOrganizationMismatch) {
		t.Fatalf("cross-organization owner = %v, want ErrOrganizationMismatch", err)
	}
}

func TestChangeOwnerEmitsOldAndNew(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	founderID := h.genID.Generate()

	org, founder := h.newTeam(t, "search", founderID)
	successor, err := h.engine.AddMember(ctx, org, h.genID.Generate(), false)
	if err != nil {
		t.Fatalf("add successor: %v", err)
	}
	h.events = nil

	if err := h.engine.ChangeOwner(ctx, org, successor); err != nil {
		t.Fatalf("change owner: %v", err)
	}

	if len(h.events) != 1 || h.events[0].Type != OwnerChanged {
		t.Fatalf("events = %+v, want one owner_changed", h.events)
	}
	ev := h.events[0]
	if ev.OldMember == nil || ev.OldMember.GetID() != founder.GetID() {
		t.Fatal("owner_changed must carry the previous owner member")
	}
	if ev.NewMember == nil || ev.NewMember.GetID() != successor.GetID() {
		t.Fatal("owner_changed must carry the new owner member")
	}

	ok, err := h.engine.IsOwner(ctx, org, successor.GetUserID())
	if err != nil {
		t.Fatalf("owner check: %v", err)
	}
	if !ok {
		t.Fatal("successor must be the owner after transfer")
	}
}

func TestDeleteOrganizationCascades(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	founderID := h.genID.Generate()

	org, _ := h.newTeam(t, "doomed", founderID)
	if _, err := h.engine.AddMember(ctx, org, h.genID.Generate(), false); err != nil {
		t.Fatalf("add member: %v", err)
	}
	invite := &teamInvite{
		ID:          h.genID.Generate(),
		OrgID:       org.GetID(),
		GUID:        "cascade-guid",
		Email:       "pending@example.com",
		InvitedByID: founderID,
	}
	if err := h.conn.Create(invite).Error; err != nil {
		t.Fatalf("seed invitation: %v", err)
	}

	// The ownership guard does not apply here; the owner goes down with
	// the organization.
	if err := h.engine.DeleteOrganization(ctx, org); err != nil {
		t.Fatalf("delete organization: %v", err)
	}

	for _, table := range []string{"eng_teams", "eng_team_members", "eng_team_owners", "eng_team_invitations"} {
		var count int64
		if err := h.conn.Table(table).Where("org_id = ? OR id = ?", org.GetID(), org.GetID()).Count(&count).Error; err != nil {
			t.Fatalf("count %s: %v", table, err)
		}
		if count != 0 {
			t.Fatalf("table %s still holds %d rows after cascade", table, count)
		}
	}

	if _, err := h.engine.GetOrganization(ctx, h.teams, org.GetID()); !errors.Is(err, ErrOrganizationNotFound) {
		t.Fatalf("lookup after delete = %v, want ErrOrganizationNotFound", err)
	}
}

func TestKindsDoNotShareMembership(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	userID := h.genID.Generate()

	team, _ := h.newTeam(t, "shared-name", userID)

	guild := &guildOrg{Name: "shared-name", Slug: "shared-name", Active: true}
	if _, err := h.engine.CreateOrganization(ctx, guild, h.genID.Generate()); err != nil {
		t.Fatalf("create guild: %v", err)
	}

	ok, err := h.engine.IsMember(ctx, guild, userID)
	if err != nil {
		t.Fatalf("guild membership check: %v", err)
	}
	if ok {
		t.Fatal("team membership must not leak into the guild kind")
	}

	teamOrgs, err := h.engine.OrganizationsOf(ctx, h.teams, userID)
	if err != nil {
		t.Fatalf("list team organizations: %v", err)
	}
	if len(teamOrgs) != 1 || teamOrgs[0].GetID() != team.GetID() {
		t.Fatalf("team organizations = %v, want just %v", teamOrgs, team.GetID())
	}
	guildOrgs, err := h.engine.OrganizationsOf(ctx, h.guilds, userID)
	if err != nil {
		t.Fatalf("list guild organizations: %v", err)
	}
	if len(guildOrgs) != 0 {
		t.Fatalf("guild organizations = %v, want none", guildOrgs)
	}
}

func TestMembersOfListsAllRecords(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	org, _ := h.newTeam(t, "listing", h.genID.Generate())
	for i := 0; i < 3; i++ {
		if _, err := h.engine.AddMember(ctx, org, h.genID.Generate(), false); err != nil {
			t.Fatalf("add member %d: %v", i, err)
		}
	}

	members, err := h.engine.MembersOf(ctx, org)
	if err != nil {
		t.Fatalf("list members: %v", err)
	}
	if len(members) != 4 {
		t.Fatalf("got %d members, want 4", len(members))
	}
}

func TestRemoveMemberEmitsEvent(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	userID := h.genID.Generate()

	org, _ := h.newTeam(t, "events", h.genID.Generate())
	if _, err := h.engine.AddMember(ctx, org, userID, false); err != nil {
		t.Fatalf("add member: %v", err)
	}
	h.events = nil

	if err := h.engine.RemoveMember(ctx, org, userID); err != nil {
		t.Fatalf("remove member: %v", err)
	}
	if len(h.events) != 1 || h.events[0].Type != MemberRemoved {
		t.Fatalf("events = %+v, want one member_removed", h.events)
	}
	if h.events[0].Member.GetUserID() != userID {
		t.Fatal("member_removed must carry the removed member record")
	}
}

func TestRemoveUnknownMember(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	org, _ := h.newTeam(t, "strict", h.genID.Generate())
	if err := h.engine.RemoveMember(ctx, org, h.genID.Generate()); !errors.Is(err, ErrMemberNotFound) {
		t.Fatalf("remove unknown member = %v, want ErrMemberNotFound", err)
	}
}
