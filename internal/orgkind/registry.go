package orgkind

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
)

var (
	// ErrUnknownKind is returned when no kind matches the requested name or
	// record type.
	ErrUnknownKind = errors.New("orgkind: unknown kind")
	// ErrKindConflict is returned when a qualified kind name is finalized
	// twice.
	ErrKindConflict = errors.New("orgkind: kind already registered")
	// ErrStorageConflict is returned when a kind tries to claim a table
	// already bound to another kind.
	ErrStorageConflict = errors.New("orgkind: storage already claimed by another kind")
)

// IncompleteKindError reports use of a kind whose required triple has not
// been fully declared.
type IncompleteKindError struct {
	Namespace string
	Name      string
	Missing   []Role
}

func (e *IncompleteKindError) Error() string {
	missing := make([]string, 0, len(e.Missing))
	for _, role := range e.Missing {
		missing = append(missing, string(role))
	}
	sort.Strings(missing)
	return fmt.Sprintf("orgkind: kind %s.%s is incomplete, missing %s",
		e.Namespace, e.Name, strings.Join(missing, ", "))
}

type binding struct {
	kind *Kind
	role Role
}

// Registry tracks declared kinds. It is an explicit, constructed object so
// independent registries can coexist (notably in tests); nothing here is
// process-global.
type Registry struct {
	mu      sync.RWMutex
	kinds   map[string]*Kind    // by qualified name
	routes  map[string]*Kind    // by kind name, for URL routing
	byType  map[reflect.Type]binding
	tables  map[string]*Kind
	pending map[string]*Builder
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		kinds:   make(map[string]*Kind),
		routes:  make(map[string]*Kind),
		byType:  make(map[reflect.Type]binding),
		tables:  make(map[string]*Kind),
		pending: make(map[string]*Builder),
	}
}

// Definition declares a complete kind in one shot. Organization, Member and
// Owner are required; Invitation is optional.
type Definition struct {
	Namespace    string
	Name         string
	Organization func() Organization
	Member       func() Member
	Owner        func() Owner
	Invitation   func() Invitation
}

// Register validates and finalizes a kind from a full definition.
func (r *Registry) Register(def Definition) (*Kind, error) {
	builder := r.Namespace(def.Namespace).Kind(def.Name)
	if def.Organization != nil {
		builder.Organization(def.Organization)
	}
	if def.Member != nil {
		builder.Member(def.Member)
	}
	if def.Owner != nil {
		builder.Owner(def.Owner)
	}
	if def.Invitation != nil {
		builder.Invitation(def.Invitation)
	}
	return builder.Kind()
}

// Namespace scopes subsequent declarations. Declarations accumulated under
// different namespaces never interact, which keeps two structurally identical
// kinds from cross-wiring.
func (r *Registry) Namespace(ns string) *Namespace {
	return &Namespace{registry: r, name: strings.TrimSpace(ns)}
}

// Lookup resolves a kind by its qualified "namespace.name" identifier.
func (r *Registry) Lookup(qualified string) (*Kind, error) {
	r.mu.RLock()
	kind, ok := r.kinds[qualified]
	builder := r.pending[qualified]
	r.mu.RUnlock()

	if ok {
		return kind, nil
	}
	// The builder takes its own lock and, on finalization, the registry
	// lock; calling it with r.mu held would invert that order.
	if builder != nil {
		return builder.Kind()
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownKind, qualified)
}

// LookupRoute resolves a kind by its bare name, as used in URL paths. When
// two namespaces declare the same kind name the qualified form must be used.
func (r *Registry) LookupRoute(name string) (*Kind, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if kind, ok := r.routes[name]; ok && kind != nil {
		return kind, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownKind, name)
}

// Kinds returns all finalized kinds in registration order by qualified name.
func (r *Registry) Kinds() []*Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Kind, 0, len(r.kinds))
	for _, kind := range r.kinds {
		out = append(out, kind)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Qualified() < out[j].Qualified() })
	return out
}

// KindOf resolves the kind and role of any registered record instance.
func (r *Registry) KindOf(instance any) (*Kind, Role, error) {
	if instance == nil {
		return nil, "", fmt.Errorf("%w: nil instance", ErrUnknownKind)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.byType[indirectType(instance)]
	if !ok {
		return nil, "", fmt.Errorf("%w: %T is not part of a registered kind", ErrUnknownKind, instance)
	}
	return b.kind, b.role, nil
}

// Related returns a fresh sibling record of the requested role for whatever
// kind the instance belongs to. Callers never need to know the kind.
func (r *Registry) Related(instance any, role Role) (any, error) {
	kind, _, err := r.KindOf(instance)
	if err != nil {
		return nil, err
	}
	switch role {
	case RoleOrganization:
		return kind.NewOrganization(), nil
	case RoleMember:
		return kind.NewMember(), nil
	case RoleOwner:
		return kind.NewOwner(), nil
	case RoleInvitation:
		if !kind.HasInvitations() {
			return nil, fmt.Errorf("%w: kind %s has no invitation type", ErrUnknownKind, kind.Qualified())
		}
		return kind.NewInvitation(), nil
	default:
		return nil, fmt.Errorf("orgkind: unknown role %q", role)
	}
}

// Namespace accumulates kind declarations for one declaring package or
// subsystem.
type Namespace struct {
	registry *Registry
	name     string
}

// Kind opens (or resumes) the builder for one kind in this namespace.
func (n *Namespace) Kind(name string) *Builder {
	qualified := n.name + "." + strings.TrimSpace(name)

	n.registry.mu.Lock()
	defer n.registry.mu.Unlock()

	if builder, ok := n.registry.pending[qualified]; ok {
		return builder
	}
	builder := &Builder{
		registry:  n.registry,
		namespace: n.name,
		name:      strings.TrimSpace(name),
	}
	n.registry.pending[qualified] = builder
	return builder
}

// Builder accumulates the record types of one kind. Wiring is finalized
// exactly once, as soon as the organization/member/owner triple is complete;
// until then Kind() fails with an IncompleteKindError.
type Builder struct {
	registry  *Registry
	namespace string
	name      string

	mu            sync.Mutex
	organization  func() Organization
	member        func() Member
	owner         func() Owner
	invitation    func() Invitation
	finalized     *Kind
	finalizeError error
}

// Organization declares the organization type of the kind.
func (b *Builder) Organization(f func() Organization) *Builder {
	b.declare(func() { b.organization = f })
	return b
}

// Member declares the member type of the kind.
func (b *Builder) Member(f func() Member) *Builder {
	b.declare(func() { b.member = f })
	return b
}

// Owner declares the owner type of the kind.
func (b *Builder) Owner(f func() Owner) *Builder {
	b.declare(func() { b.owner = f })
	return b
}

// Invitation declares the optional invitation type of the kind.
func (b *Builder) Invitation(f func() Invitation) *Builder {
	b.declare(func() { b.invitation = f })
	return b
}

// Kind returns the finalized handle, or an IncompleteKindError while any of
// the three required types is still missing.
func (b *Builder) Kind() (*Kind, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.finalizeError != nil {
		return nil, b.finalizeError
	}
	if b.finalized != nil {
		return b.finalized, nil
	}
	return nil, b.incomplete()
}

func (b *Builder) declare(assign func()) {
	b.mu.Lock()
	assign()
	complete := b.organization != nil && b.member != nil && b.owner != nil
	alreadyDone := b.finalized != nil || b.finalizeError != nil
	b.mu.Unlock()

	if complete && !alreadyDone {
		b.finalize()
	}
}

func (b *Builder) incomplete() error {
	missing := make([]Role, 0, 3)
	if b.organization == nil {
		missing = append(missing, RoleOrganization)
	}
	if b.member == nil {
		missing = append(missing, RoleMember)
	}
	if b.owner == nil {
		missing = append(missing, RoleOwner)
	}
	return &IncompleteKindError{Namespace: b.namespace, Name: b.name, Missing: missing}
}

// finalize wires the kind into the registry: binds tables, indexes the
// concrete types for Related lookups and publishes the handle. Runs once.
func (b *Builder) finalize() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.finalized != nil || b.finalizeError != nil {
		return
	}

	kind := &Kind{
		namespace:       b.namespace,
		name:            b.name,
		newOrganization: b.organization,
		newMember:       b.member,
		newOwner:        b.owner,
		newInvitation:   b.invitation,
		tables:          make(map[Role]string),
	}

	type roleProto struct {
		role  Role
		proto any
	}
	protos := []roleProto{
		{RoleOrganization, kind.NewOrganization()},
		{RoleMember, kind.NewMember()},
		{RoleOwner, kind.NewOwner()},
	}
	if kind.HasInvitations() {
		protos = append(protos, roleProto{RoleInvitation, kind.NewInvitation()})
	}

	reg := b.registry
	reg.mu.Lock()
	defer reg.mu.Unlock()

	qualified := kind.Qualified()
	if _, exists := reg.kinds[qualified]; exists {
		b.finalizeError = fmt.Errorf("%w: %s", ErrKindConflict, qualified)
		return
	}

	for _, rp := range protos {
		table := rp.proto.(Tabler).TableName()
		if owner, claimed := reg.tables[table]; claimed {
			b.finalizeError = fmt.Errorf("%w: table %q is bound to %s",
				ErrStorageConflict, table, owner.Qualified())
			return
		}
		if other, indexed := reg.byType[indirectType(rp.proto)]; indexed {
			b.finalizeError = fmt.Errorf("%w: type %T is bound to %s",
				ErrStorageConflict, rp.proto, other.kind.Qualified())
			return
		}
	}

	for _, rp := range protos {
		table := rp.proto.(Tabler).TableName()
		kind.tables[rp.role] = table
		reg.tables[table] = kind
		reg.byType[indirectType(rp.proto)] = binding{kind: kind, role: rp.role}
	}

	reg.kinds[qualified] = kind
	if _, ambiguous := reg.routes[kind.name]; ambiguous {
		reg.routes[kind.name] = nil
	} else {
		reg.routes[kind.name] = kind
	}
	delete(reg.pending, qualified)
	b.finalized = kind
}

func indirectType(instance any) reflect.Type {
	t := reflect.TypeOf(instance)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}
