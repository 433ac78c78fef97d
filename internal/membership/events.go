package membership

import (
	"context"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/orgkit/internal/orgkind"
)

// EventType identifies a membership lifecycle event.
type EventType string

const (
	MemberAdded   EventType = "member_added"
	MemberRemoved EventType = "member_removed"
	OwnerChanged  EventType = "owner_changed"
)

// Event carries the records involved in a membership mutation. Member is set
// for member_added/member_removed; OldMember and NewMember for owner_changed.
type Event struct {
	Type  EventType
	Kind  *orgkind.Kind
	OrgID snowflake.ID

	Member    orgkind.Member
	OldMember orgkind.Member
	NewMember orgkind.Member

	At time.Time
}

// Handler observes events. Handlers run synchronously after the mutating
// transaction commits, in subscription order. An owner_changed handler must
// not call ChangeOwner itself; the engine does not guard against reentrant
// invariant checks.
type Handler func(ctx context.Context, ev Event)

// Dispatcher is an explicit observer registry. Subscription is expected at
// composition time; there is no unsubscribe.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
}

// NewDispatcher returns an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[EventType][]Handler)}
}

// Subscribe registers a handler for one event type.
func (d *Dispatcher) Subscribe(t EventType, h Handler) {
	if h == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[t] = append(d.handlers[t], h)
}

func (d *Dispatcher) dispatch(ctx context.Context, ev Event) {
	d.mu.RLock()
	handlers := d.handlers[ev.Type]
	d.mu.RUnlock()
	for _, h := range handlers {
		h(ctx, ev)
	}
}
