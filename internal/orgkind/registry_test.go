package orgkind

import (
	"errors"
	"testing"

	"github.com/bwmarrin/snowflake"
)

type testOrg struct {
	ID     snowflake.ID
	Name   string
	Slug   string
	Active bool
}

func (o *testOrg) GetID() snowflake.ID   { return o.ID }
func (o *testOrg) SetID(id snowflake.ID) { o.ID = id }
func (o *testOrg) GetName() string       { return o.Name }
func (o *testOrg) SetName(name string)   { o.Name = name }
func (o *testOrg) GetSlug() string       { return o.Slug }
func (o *testOrg) SetSlug(s string)      { o.Slug = s }
func (o *testOrg) IsActive() bool        { return o.Active }
func (o *testOrg) SetActive(v bool)      { o.Active = v }

type accountOrg struct{ testOrg }
type vendorOrg struct{ testOrg }

func (accountOrg) TableName() string { return "account_organizations" }
func (vendorOrg) TableName() string  { return "vendor_organizations" }

type testMember struct {
	ID     snowflake.ID
	OrgID  snowflake.ID
	UserID snowflake.ID
	Admin  bool
}

func (m *testMember) GetID() snowflake.ID       { return m.ID }
func (m *testMember) SetID(id snowflake.ID)     { m.ID = id }
func (m *testMember) GetOrgID() snowflake.ID    { return m.OrgID }
func (m *testMember) SetOrgID(id snowflake.ID)  { m.OrgID = id }
func (m *testMember) GetUserID() snowflake.ID   { return m.UserID }
func (m *testMember) SetUserID(id snowflake.ID) { m.UserID = id }
func (m *testMember) IsAdmin() bool             { return m.Admin }
func (m *testMember) SetAdmin(v bool)           { m.Admin = v }

type accountMember struct{ testMember }
type vendorMember struct{ testMember }

func (accountMember) TableName() string { return "account_organization_members" }
func (vendorMember) TableName() string  { return "vendor_organization_members" }

type testOwner struct {
	ID       snowflake.ID
	OrgID    snowflake.ID
	MemberID snowflake.ID
}

func (o *testOwner) GetID() snowflake.ID         { return o.ID }
func (o *testOwner) SetID(id snowflake.ID)       { o.ID = id }
func (o *testOwner) GetOrgID() snowflake.ID      { return o.OrgID }
func (o *testOwner) SetOrgID(id snowflake.ID)    { o.OrgID = id }
func (o *testOwner) GetMemberID() snowflake.ID   { return o.MemberID }
func (o *testOwner) SetMemberID(id snowflake.ID) { o.MemberID = id }

type accountOwner struct{ testOwner }
type vendorOwner struct{ testOwner }

func (accountOwner) TableName() string { return "account_organization_owners" }
func (vendorOwner) TableName() string  { return "vendor_organization_owners" }

func registerAccountKind(t *testing.T, reg *Registry) *Kind {
	t.Helper()
	kind, err := reg.Register(Definition{
		Namespace:    "accounts",
		Name:         "account",
		Organization: func() Organization { return &accountOrg{} },
		Member:       func() Member { return &accountMember{} },
		Owner:        func() Owner { return &accountOwner{} },
	})
	if err != nil {
		t.Fatalf("register account kind: %v", err)
	}
	return kind
}

func registerVendorKind(t *testing.T, reg *Registry) *Kind {
	t.Helper()
	kind, err := reg.Register(Definition{
		Namespace:    "vendors",
		Name:         "vendor",
		Organization: func() Organization { return &vendorOrg{} },
		Member:       func() Member { return &vendorMember{} },
		Owner:        func() Owner { return &vendorOwner{} },
	})
	if err != nil {
		t.Fatalf("register vendor kind: %v", err)
	}
	return kind
}

func TestRegisterRequiresFullTriple(t *testing.T) {
	reg := NewRegistry()

	builder := reg.Namespace("accounts").Kind("account").
		Organization(func() Organization { return &accountOrg{} })

	_, err := builder.Kind()
	var incomplete *IncompleteKindError
	if !errors.As(err, &incomplete) {
		t.Fatalf("expected IncompleteKindError, got %v", err)
	}
	if len(incomplete.Missing) != 2 {
		t.Fatalf("expected member and owner missing, got %v", incomplete.Missing)
	}

	if _, err := reg.Lookup("accounts.account"); err == nil {
		t.Fatal("expected lookup of incomplete kind to fail")
	}

	builder.Member(func() Member { return &accountMember{} })
	builder.Owner(func() Owner { return &accountOwner{} })

	kind, err := builder.Kind()
	if err != nil {
		t.Fatalf("expected finalized kind, got %v", err)
	}
	if kind.Qualified() != "accounts.account" {
		t.Fatalf("unexpected qualified name %s", kind.Qualified())
	}
}

func TestRegisterTwiceConflicts(t *testing.T) {
	reg := NewRegistry()
	registerAccountKind(t, reg)

	_, err := reg.Register(Definition{
		Namespace:    "accounts",
		Name:         "account",
		Organization: func() Organization { return &accountOrg{} },
		Member:       func() Member { return &accountMember{} },
		Owner:        func() Owner { return &accountOwner{} },
	})
	if !errors.Is(err, ErrKindConflict) && !errors.Is(err, ErrStorageConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestStorageIsolationAcrossKinds(t *testing.T) {
	reg := NewRegistry()
	account := registerAccountKind(t, reg)
	vendor := registerVendorKind(t, reg)

	for _, role := range []Role{RoleOrganization, RoleMember, RoleOwner} {
		if account.Table(role) == vendor.Table(role) {
			t.Fatalf("kinds share %s storage: %s", role, account.Table(role))
		}
	}
}

func TestStorageConflictRejected(t *testing.T) {
	reg := NewRegistry()
	registerAccountKind(t, reg)

	// Same concrete tables under a different namespace must be refused.
	_, err := reg.Register(Definition{
		Namespace:    "teams",
		Name:         "team",
		Organization: func() Organization { return &accountOrg{} },
		Member:       func() Member { return &accountMember{} },
		Owner:        func() Owner { return &accountOwner{} },
	})
	if !errors.Is(err, ErrStorageConflict) {
		t.Fatalf("expected ErrStorageConflict, got %v", err)
	}
}

func TestRelatedResolvesSiblingsWithoutNamingKind(t *testing.T) {
	reg := NewRegistry()
	registerAccountKind(t, reg)
	registerVendorKind(t, reg)

	sibling, err := reg.Related(&accountMember{}, RoleOrganization)
	if err != nil {
		t.Fatalf("related lookup failed: %v", err)
	}
	if _, ok := sibling.(*accountOrg); !ok {
		t.Fatalf("expected *accountOrg sibling, got %T", sibling)
	}

	sibling, err = reg.Related(&vendorOrg{}, RoleOwner)
	if err != nil {
		t.Fatalf("related lookup failed: %v", err)
	}
	if _, ok := sibling.(*vendorOwner); !ok {
		t.Fatalf("expected *vendorOwner sibling, got %T", sibling)
	}

	if _, err := reg.Related(&struct{}{}, RoleOwner); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("expected ErrUnknownKind for foreign type, got %v", err)
	}
}

func TestRelatedInvitationRequiresDeclaredType(t *testing.T) {
	reg := NewRegistry()
	registerAccountKind(t, reg)

	if _, err := reg.Related(&accountMember{}, RoleInvitation); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("expected ErrUnknownKind without invitation type, got %v", err)
	}
}

func TestIndependentRegistriesDoNotLeak(t *testing.T) {
	regA := NewRegistry()
	regB := NewRegistry()
	registerAccountKind(t, regA)

	if _, err := regB.Lookup("accounts.account"); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("expected registry isolation, got %v", err)
	}
}

func TestLookupDuringRegistration(t *testing.T) {
	reg := NewRegistry()
	builder := reg.Namespace("accounts").Kind("account").
		Organization(func() Organization { return &accountOrg{} }).
		Member(func() Member { return &accountMember{} })

	// Lookups hammering a pending kind must not block the declaration that
	// completes it.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			_, _ = reg.Lookup("accounts.account")
		}
	}()

	builder.Owner(func() Owner { return &accountOwner{} })
	<-done

	kind, err := reg.Lookup("accounts.account")
	if err != nil {
		t.Fatalf("lookup after finalization: %v", err)
	}
	if kind.Qualified() != "accounts.account" {
		t.Fatalf("unexpected qualified name %s", kind.Qualified())
	}
}

func TestLookupRoute(t *testing.T) {
	reg := NewRegistry()
	registerAccountKind(t, reg)

	kind, err := reg.LookupRoute("account")
	if err != nil {
		t.Fatalf("route lookup failed: %v", err)
	}
	if kind.Namespace() != "accounts" {
		t.Fatalf("unexpected namespace %s", kind.Namespace())
	}

	if _, err := reg.LookupRoute("nope"); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("expected ErrUnknownKind, got %v", err)
	}
}
