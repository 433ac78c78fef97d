package membership

import (
	"context"
	"encoding/json"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// OrgEvent is the outbox row written for every membership lifecycle event.
// A relay owned by the host drains published=false rows.
type OrgEvent struct {
	ID        snowflake.ID   `gorm:"primaryKey"`
	OrgKind   string         `gorm:"column:org_kind;type:text;not null;index"`
	OrgID     snowflake.ID   `gorm:"column:org_id;not null;index"`
	EventType string         `gorm:"column:event_type;type:text;not null"`
	Payload   datatypes.JSON `gorm:"type:jsonb;not null"`
	Published bool           `gorm:"not null;default:false;index"`
	CreatedAt time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (OrgEvent) TableName() string { return "org_events" }

// Outbox persists membership events for asynchronous consumers.
type Outbox struct {
	db    *gorm.DB
	genID *snowflake.Node
	log   *zap.Logger
}

// NewOutbox builds the outbox observer.
func NewOutbox(conn *gorm.DB, genID *snowflake.Node, log *zap.Logger) *Outbox {
	return &Outbox{db: conn, genID: genID, log: log}
}

// Attach subscribes the outbox to every event type.
func (o *Outbox) Attach(d *Dispatcher) {
	for _, t := range []EventType{MemberAdded, MemberRemoved, OwnerChanged} {
		d.Subscribe(t, o.handle)
	}
}

func (o *Outbox) handle(ctx context.Context, ev Event) {
	payload := map[string]string{
		"org_id": ev.OrgID.String(),
	}
	switch ev.Type {
	case OwnerChanged:
		if ev.OldMember != nil {
			payload["old_member_id"] = ev.OldMember.GetID().String()
		}
		if ev.NewMember != nil {
			payload["new_member_id"] = ev.NewMember.GetID().String()
		}
	default:
		if ev.Member != nil {
			payload["member_id"] = ev.Member.GetID().String()
			payload["user_id"] = ev.Member.GetUserID().String()
		}
	}

	data, err := json.Marshal(payload)
	if err != nil {
		o.log.Warn("failed to marshal org event payload", zap.Error(err))
		return
	}

	row := OrgEvent{
		ID:        o.genID.Generate(),
		OrgKind:   ev.Kind.Qualified(),
		OrgID:     ev.OrgID,
		EventType: string(ev.Type),
		Payload:   datatypes.JSON(data),
		Published: false,
		CreatedAt: ev.At,
	}
	if err := o.db.WithContext(ctx).Create(&row).Error; err != nil {
		o.log.Warn("failed to persist org event",
			zap.String("event_type", string(ev.Type)),
			zap.Error(err),
		)
	}
}
