package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("org_kind", "orgs.organization"),
		attribute.String("user_email", "a@example.com"),
		attribute.String("outcome", "activated"),
	)
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	if attrs[0].Key != "org_kind" && attrs[1].Key != "org_kind" {
		t.Fatalf("expected org_kind to be retained")
	}
	if attrs[0].Key != "outcome" && attrs[1].Key != "outcome" {
		t.Fatalf("expected outcome to be retained")
	}
}

func TestHTTPMetricsObserve(t *testing.T) {
	registry := prometheus.NewRegistry()
	h := newHTTPMetrics(registry, Config{ServiceName: "orgkit", Environment: "test"})

	h.Observe("GET", "/api/organizations", 200, 25*time.Millisecond)
	h.Observe("GET", "", 404, time.Millisecond)

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	var found bool
	for _, family := range families {
		if family.GetName() == "orgkit_http_requests_total" {
			found = true
			if len(family.GetMetric()) != 2 {
				t.Fatalf("expected 2 labeled series, got %d", len(family.GetMetric()))
			}
		}
	}
	if !found {
		t.Fatalf("expected orgkit_http_requests_total to be registered")
	}
}
