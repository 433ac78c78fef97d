package membership

import (
	"context"

	obsmetrics "github.com/smallbiznis/orgkit/internal/observability/metrics"
	"go.uber.org/fx"
)

var Module = fx.Module("membership.engine",
	fx.Provide(NewDispatcher),
	fx.Provide(NewEngine),
	fx.Provide(NewOutbox),
	fx.Invoke(func(outbox *Outbox, events *Dispatcher) {
		outbox.Attach(events)
	}),
	fx.Invoke(attachMetrics),
)

func attachMetrics(events *Dispatcher, mx *obsmetrics.Metrics) {
	events.Subscribe(MemberAdded, func(ctx context.Context, ev Event) {
		mx.RecordMemberAdded(ctx, ev.Kind.Qualified())
	})
	events.Subscribe(MemberRemoved, func(ctx context.Context, ev Event) {
		mx.RecordMemberRemoved(ctx, ev.Kind.Qualified())
	})
	events.Subscribe(OwnerChanged, func(ctx context.Context, ev Event) {
		mx.RecordOwnerChanged(ctx, ev.Kind.Qualified())
	})
}
