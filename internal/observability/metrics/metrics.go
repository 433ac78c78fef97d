package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes application-level instruments.
type Metrics struct {
	membersAdded       metric.Int64Counter
	membersRemoved     metric.Int64Counter
	ownersChanged      metric.Int64Counter
	invitationsSent    metric.Int64Counter
	invitationsClaimed metric.Int64Counter
	activations        metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "orgkit"
	}
	meter := provider.Meter(name)

	membersAdded, err := meter.Int64Counter("orgkit_members_added_total")
	if err != nil {
		return nil, err
	}
	membersRemoved, err := meter.Int64Counter("orgkit_members_removed_total")
	if err != nil {
		return nil, err
	}
	ownersChanged, err := meter.Int64Counter("orgkit_owners_changed_total")
	if err != nil {
		return nil, err
	}
	invitationsSent, err := meter.Int64Counter("orgkit_invitations_sent_total")
	if err != nil {
		return nil, err
	}
	invitationsClaimed, err := meter.Int64Counter("orgkit_invitations_claimed_total")
	if err != nil {
		return nil, err
	}
	activations, err := meter.Int64Counter("orgkit_activations_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		membersAdded:       membersAdded,
		membersRemoved:     membersRemoved,
		ownersChanged:      ownersChanged,
		invitationsSent:    invitationsSent,
		invitationsClaimed: invitationsClaimed,
		activations:        activations,
	}, nil
}

// RecordMemberAdded increments membership addition counts.
func (m *Metrics) RecordMemberAdded(ctx context.Context, orgKind string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("org_kind", strings.TrimSpace(orgKind)))
	m.membersAdded.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordMemberRemoved increments membership removal counts.
func (m *Metrics) RecordMemberRemoved(ctx context.Context, orgKind string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("org_kind", strings.TrimSpace(orgKind)))
	m.membersRemoved.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordOwnerChanged increments ownership transfer counts.
func (m *Metrics) RecordOwnerChanged(ctx context.Context, orgKind string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("org_kind", strings.TrimSpace(orgKind)))
	m.ownersChanged.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordInvitationSent increments invitation delivery counts.
func (m *Metrics) RecordInvitationSent(ctx context.Context, orgKind, template string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("org_kind", strings.TrimSpace(orgKind)),
		attribute.String("template", strings.TrimSpace(template)),
	)
	m.invitationsSent.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordInvitationClaimed increments invitation claim counts.
func (m *Metrics) RecordInvitationClaimed(ctx context.Context, orgKind string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("org_kind", strings.TrimSpace(orgKind)))
	m.invitationsClaimed.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordActivation increments account activation counts by outcome.
func (m *Metrics) RecordActivation(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("outcome", strings.TrimSpace(outcome)))
	m.activations.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"org_kind":    {},
	"template":    {},
	"outcome":     {},
	"endpoint":    {},
	"status_code": {},
	"event_type":  {},
	"reason":      {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
