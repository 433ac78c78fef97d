package invitation

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/orgkit/internal/clock"
	"github.com/smallbiznis/orgkit/internal/config"
	identitydomain "github.com/smallbiznis/orgkit/internal/identity/domain"
	identityrepo "github.com/smallbiznis/orgkit/internal/identity/repository"
	identityservice "github.com/smallbiznis/orgkit/internal/identity/service"
	"github.com/smallbiznis/orgkit/internal/invitation/domain"
	"github.com/smallbiznis/orgkit/internal/membership"
	"github.com/smallbiznis/orgkit/internal/organization"
	orgdomain "github.com/smallbiznis/orgkit/internal/organization/domain"
	"github.com/smallbiznis/orgkit/internal/orgkind"
	"github.com/smallbiznis/orgkit/internal/orgtoken"
	"github.com/smallbiznis/orgkit/internal/providers/email"
	"github.com/smallbiznis/orgkit/internal/ratelimit"
	"github.com/smallbiznis/orgkit/pkg/db"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type backendHarness struct {
	conn         *gorm.DB
	engine       *membership.Engine
	identity     identitydomain.Service
	kind         *orgkind.Kind
	clk          *clock.FakeClock
	registration domain.RegistrationBackend
	modeled      domain.ModelBackend
	genID        *snowflake.Node
}

func newBackendHarness(t *testing.T) *backendHarness {
	t.Helper()

	conn, err := db.NewTest()
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}

	registry := orgkind.NewRegistry()
	kind, err := organization.RegisterKind(registry)
	if err != nil {
		t.Fatalf("register kind: %v", err)
	}
	if err := conn.AutoMigrate(kind.Models()...); err != nil {
		t.Fatalf("migrate kind: %v", err)
	}
	if err := conn.AutoMigrate(&identitydomain.User{}, &identitydomain.Session{}); err != nil {
		t.Fatalf("migrate identity: %v", err)
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	clk := clock.NewFakeClock(clock.System().Now())

	cfg := config.Config{PublicBaseURL: "http://orgkit.test"}

	users, sessions := identityrepo.New(conn)
	identitySvc := identityservice.New(zap.NewNop(), users, sessions, node, clk, cfg)

	engine := membership.NewEngine(conn, registry, node, clk, membership.NewDispatcher(), zap.NewNop())

	tokens, err := orgtoken.New(orgtoken.Config{Secret: "test-secret"}, clk)
	if err != nil {
		t.Fatalf("token service: %v", err)
	}

	mailer := email.NewAsyncSender(&email.NoOpProvider{}, zap.NewNop())
	policy := config.StaticInvitationPolicy(config.DefaultInvitationPolicy())
	throttle := ratelimit.NewReminderThrottle(cfg, policy)

	return &backendHarness{
		conn:     conn,
		engine:   engine,
		identity: identitySvc,
		kind:     kind,
		clk:      clk,
		genID:    node,
		registration: NewRegistrationBackend(
			conn, engine, identitySvc, tokens, mailer, throttle, policy, cfg, nil, zap.NewNop(),
		),
		modeled: NewModelBackend(conn, engine, identitySvc, mailer, node, cfg, nil, zap.NewNop()),
	}
}

func (h *backendHarness) activeUser(t *testing.T, name string) *identitydomain.User {
	t.Helper()
	user, err := h.identity.CreateUser(context.Background(), identitydomain.CreateUserRequest{
		Username: name,
		Email:    name + "@example.com",
		Password: "s3cret-pass",
	})
	if err != nil {
		t.Fatalf("create user %s: %v", name, err)
	}
	return user
}

func (h *backendHarness) org(t *testing.T, name string, founderID snowflake.ID) *orgdomain.Organization {
	t.Helper()
	org := &orgdomain.Organization{Name: name, Slug: name, Active: true}
	if _, err := h.engine.CreateOrganization(context.Background(), org, founderID); err != nil {
		t.Fatalf("create organization %s: %v", name, err)
	}
	return org
}

func TestInviteUnknownEmailCreatesDormantIdentity(t *testing.T) {
	h := newBackendHarness(t)
	ctx := context.Background()
	founder := h.activeUser(t, "founder")
	org := h.org(t, "acme", founder.ID)

	invited, err := h.registration.InviteByEmail(ctx, founder.ID, org, "newcomer@example.com")
	if err != nil {
		t.Fatalf("invite: %v", err)
	}
	if invited.Active {
		t.Fatal("invited identity must start dormant")
	}
	if invited.Email != "newcomer@example.com" {
		t.Fatalf("email = %q", invited.Email)
	}

	// The seat is claimed at invite time; activation only unlocks the login.
	ok, err := h.engine.IsMember(ctx, org, invited.ID)
	if err != nil {
		t.Fatalf("membership check: %v", err)
	}
	if !ok {
		t.Fatal("dormant invitee must be a member of the inviting organization")
	}
}

func TestDormantInviteeIsMemberAfterActivation(t *testing.T) {
	h := newBackendHarness(t)
	ctx := context.Background()
	founder := h.activeUser(t, "greeter")
	org := h.org(t, "landing", founder.ID)

	invited, err := h.registration.InviteByEmail(ctx, founder.ID, org, "arrival@example.com")
	if err != nil {
		t.Fatalf("invite: %v", err)
	}

	token := h.registration.ActivationToken(invited)
	if _, err := h.registration.Activate(ctx, invited.ID, token, "arrival", "new-pass-123"); err != nil {
		t.Fatalf("activate: %v", err)
	}

	ok, err := h.engine.IsMember(ctx, org, invited.ID)
	if err != nil {
		t.Fatalf("membership check: %v", err)
	}
	if !ok {
		t.Fatal("activated invitee must be a member of the inviting organization")
	}
}

func TestInviteActiveUserAddsMemberDirectly(t *testing.T) {
	h := newBackendHarness(t)
	ctx := context.Background()
	founder := h.activeUser(t, "owner")
	joiner := h.activeUser(t, "joiner")
	org := h.org(t, "direct", founder.ID)

	invited, err := h.registration.InviteByEmail(ctx, founder.ID, org, joiner.Email)
	if err != nil {
		t.Fatalf("invite: %v", err)
	}
	if invited.ID != joiner.ID {
		t.Fatalf("resolved user %v, want %v", invited.ID, joiner.ID)
	}

	ok, err := h.engine.IsMember(ctx, org, joiner.ID)
	if err != nil {
		t.Fatalf("membership check: %v", err)
	}
	if !ok {
		t.Fatal("active invitee must become a member immediately")
	}

	// Inviting again is harmless.
	if _, err := h.registration.InviteByEmail(ctx, founder.ID, org, joiner.Email); err != nil {
		t.Fatalf("repeat invite: %v", err)
	}
}

func TestInviteAmbiguousEmailFails(t *testing.T) {
	h := newBackendHarness(t)
	ctx := context.Background()
	founder := h.activeUser(t, "boss")
	org := h.org(t, "strict", founder.ID)

	for i := 0; i < 2; i++ {
		if _, err := h.identity.CreateUser(ctx, identitydomain.CreateUserRequest{
			Username: fmt.Sprintf("dupe%d", i),
			Email:    "shared@example.com",
			Password: "s3cret-pass",
		}); err != nil {
			t.Fatalf("create duplicate %d: %v", i, err)
		}
	}

	if _, err := h.registration.InviteByEmail(ctx, founder.ID, org, "shared@example.com"); !errors.Is(err, identitydomain.ErrAmbiguousEmail) {
		t.Fatalf("ambiguous invite = %v, want ErrAmbiguousEmail", err)
	}
}

func TestInviteRejectsGarbageEmail(t *testing.T) {
	h := newBackendHarness(t)
	founder := h.activeUser(t, "picky")
	org := h.org(t, "picky-org", founder.ID)

	if _, err := h.registration.InviteByEmail(context.Background(), founder.ID, org, "not-an-email"); !errors.Is(err, domain.ErrInvalidEmail) {
		t.Fatalf("garbage email = %v, want ErrInvalidEmail", err)
	}
}

func TestActivateDormantInvitee(t *testing.T) {
	h := newBackendHarness(t)
	ctx := context.Background()
	founder := h.activeUser(t, "host")
	org := h.org(t, "welcome", founder.ID)

	invited, err := h.registration.InviteByEmail(ctx, founder.ID, org, "late@example.com")
	if err != nil {
		t.Fatalf("invite: %v", err)
	}
	token := h.registration.ActivationToken(invited)

	if _, err := h.registration.Activate(ctx, invited.ID, "garbage-token", "late", "new-pass-123"); !errors.Is(err, domain.ErrInvalidToken) {
		t.Fatalf("bad token = %v, want ErrInvalidToken", err)
	}

	activated, err := h.registration.Activate(ctx, invited.ID, token, "late", "new-pass-123")
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if !activated.Active {
		t.Fatal("identity must be active after activation")
	}

	// Activation mutates the bound state, so the token is spent.
	fresh, err := h.identity.GetByID(ctx, invited.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if h.registration.VerifyToken(fresh, token) {
		t.Fatal("used activation token must no longer verify")
	}
}

func TestActivateTurnsOnParkedOrganizations(t *testing.T) {
	h := newBackendHarness(t)
	ctx := context.Background()

	dormant, err := h.identity.CreateDormant(ctx, "pending@example.com")
	if err != nil {
		t.Fatalf("create dormant: %v", err)
	}
	parked := &orgdomain.Organization{Name: "parked", Slug: "parked", Active: false}
	if _, err := h.engine.CreateOrganization(ctx, parked, dormant.ID); err != nil {
		t.Fatalf("create parked org: %v", err)
	}

	token := h.registration.ActivationToken(dormant)
	if _, err := h.registration.Activate(ctx, dormant.ID, token, "pending", "new-pass-123"); err != nil {
		t.Fatalf("activate: %v", err)
	}

	org, err := h.engine.GetOrganization(ctx, h.kind, parked.ID)
	if err != nil {
		t.Fatalf("reload org: %v", err)
	}
	if !org.IsActive() {
		t.Fatal("owned organization must activate with its owner")
	}
}

func TestActivateTurnsOnInactiveMemberOrganizations(t *testing.T) {
	h := newBackendHarness(t)
	ctx := context.Background()
	founder := h.activeUser(t, "starter")

	parked := &orgdomain.Organization{Name: "waiting", Slug: "waiting", Active: false}
	if _, err := h.engine.CreateOrganization(ctx, parked, founder.ID); err != nil {
		t.Fatalf("create parked org: %v", err)
	}

	invited, err := h.registration.InviteByEmail(ctx, founder.ID, parked, "cofounder@example.com")
	if err != nil {
		t.Fatalf("invite: %v", err)
	}

	token := h.registration.ActivationToken(invited)
	if _, err := h.registration.Activate(ctx, invited.ID, token, "cofounder", "new-pass-123"); err != nil {
		t.Fatalf("activate: %v", err)
	}

	// Membership, not ownership, drives activation of parked organizations.
	org, err := h.engine.GetOrganization(ctx, h.kind, parked.ID)
	if err != nil {
		t.Fatalf("reload org: %v", err)
	}
	if !org.IsActive() {
		t.Fatal("inactive organization must activate with any activating member")
	}
}

func TestSendReminderSkipsActiveUsers(t *testing.T) {
	h := newBackendHarness(t)
	ctx := context.Background()
	founder := h.activeUser(t, "sender")
	org := h.org(t, "noisy", founder.ID)

	active := h.activeUser(t, "already")
	sent, err := h.registration.SendReminder(ctx, org, active.ID)
	if err != nil {
		t.Fatalf("reminder for active user: %v", err)
	}
	if sent {
		t.Fatal("reminders must not go to active users")
	}

	dormant, err := h.identity.CreateDormant(ctx, "quiet@example.com")
	if err != nil {
		t.Fatalf("create dormant: %v", err)
	}
	sent, err = h.registration.SendReminder(ctx, org, dormant.ID)
	if err != nil {
		t.Fatalf("reminder for dormant user: %v", err)
	}
	if !sent {
		t.Fatal("dormant users must get reminders")
	}
}

func TestModelInviteAndClaim(t *testing.T) {
	h := newBackendHarness(t)
	ctx := context.Background()
	founder := h.activeUser(t, "inviter")
	claimer := h.activeUser(t, "claimer")
	org := h.org(t, "tracked", founder.ID)

	inv, err := h.modeled.Invite(ctx, founder.ID, org, "claimer@example.com")
	if err != nil {
		t.Fatalf("invite: %v", err)
	}
	if inv.GetGUID() == "" {
		t.Fatal("invitation must get a guid")
	}
	if inv.GetInviteeID() != nil {
		t.Fatal("fresh invitation must be unclaimed")
	}

	claimed, err := h.modeled.Claim(ctx, h.kind, inv.GetGUID(), claimer.ID)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed.GetInviteeID() == nil || *claimed.GetInviteeID() != claimer.ID {
		t.Fatal("claim must record the invitee")
	}
	ok, err := h.engine.IsMember(ctx, org, claimer.ID)
	if err != nil {
		t.Fatalf("membership check: %v", err)
	}
	if !ok {
		t.Fatal("claimer must become a member")
	}

	// Claiming again is idempotent for the same user.
	if _, err := h.modeled.Claim(ctx, h.kind, inv.GetGUID(), claimer.ID); err != nil {
		t.Fatalf("repeat claim: %v", err)
	}

	// Anyone else is shut out for good.
	other := h.activeUser(t, "latecomer")
	if _, err := h.modeled.Claim(ctx, h.kind, inv.GetGUID(), other.ID); !errors.Is(err, domain.ErrAlreadyClaimed) {
		t.Fatalf("second claimer = %v, want ErrAlreadyClaimed", err)
	}
}

func TestInviterCannotClaimOwnInvitation(t *testing.T) {
	h := newBackendHarness(t)
	ctx := context.Background()
	founder := h.activeUser(t, "selfish")
	org := h.org(t, "mirror", founder.ID)

	inv, err := h.modeled.Invite(ctx, founder.ID, org, "someone@example.com")
	if err != nil {
		t.Fatalf("invite: %v", err)
	}
	if _, err := h.modeled.Claim(ctx, h.kind, inv.GetGUID(), founder.ID); !errors.Is(err, domain.ErrSelfAccept) {
		t.Fatalf("self accept = %v, want ErrSelfAccept", err)
	}
}

func TestResolveUnknownGUID(t *testing.T) {
	h := newBackendHarness(t)
	if _, err := h.modeled.Resolve(context.Background(), h.kind, "no-such-guid"); !errors.Is(err, domain.ErrInvitationNotFound) {
		t.Fatalf("unknown guid = %v, want ErrInvitationNotFound", err)
	}
}

func TestRegisterAndClaim(t *testing.T) {
	h := newBackendHarness(t)
	ctx := context.Background()
	founder := h.activeUser(t, "recruiter")
	org := h.org(t, "greenfield", founder.ID)

	inv, err := h.modeled.Invite(ctx, founder.ID, org, "fresh@example.com")
	if err != nil {
		t.Fatalf("invite: %v", err)
	}

	user, err := h.modeled.RegisterAndClaim(ctx, h.kind, inv.GetGUID(), identitydomain.CreateUserRequest{
		Username: "fresh",
		Password: "brand-new-pass",
	})
	if err != nil {
		t.Fatalf("register and claim: %v", err)
	}
	if user.Email != "fresh@example.com" {
		t.Fatalf("email = %q, want the invitation's", user.Email)
	}
	ok, err := h.engine.IsMember(ctx, org, user.ID)
	if err != nil {
		t.Fatalf("membership check: %v", err)
	}
	if !ok {
		t.Fatal("registered invitee must be a member")
	}
}

func TestListByOrg(t *testing.T) {
	h := newBackendHarness(t)
	ctx := context.Background()
	founder := h.activeUser(t, "lister")
	org := h.org(t, "inbox", founder.ID)

	for i := 0; i < 3; i++ {
		if _, err := h.modeled.Invite(ctx, founder.ID, org, fmt.Sprintf("guest%d@example.com", i)); err != nil {
			t.Fatalf("invite %d: %v", i, err)
		}
	}
	invites, err := h.modeled.ListByOrg(ctx, org)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(invites) != 3 {
		t.Fatalf("got %d invitations, want 3", len(invites))
	}
}
