package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestRegistry_Handler(t *testing.T) {
	registry := NewRegistry()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	registry.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Error("expected Go runtime metrics in output")
	}
	contentType := rec.Header().Get("Content-Type")
	if !strings.Contains(contentType, "text/plain") && !strings.Contains(contentType, "application/openmetrics-text") {
		t.Errorf("unexpected content type: %s", contentType)
	}
}

func TestRegistry_RecordHTTPRequest(t *testing.T) {
	registry := NewRegistry()
	registry.IncrementInFlight()
	registry.RecordHTTPRequest(http.MethodGet, "/jobs/:state", http.StatusOK, 15*time.Millisecond)
	registry.DecrementInFlight()

	families, err := registry.Gatherer().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	found := false
	for _, family := range families {
		if family.GetName() != "http_requests_total" {
			continue
		}
		for _, metric := range family.GetMetric() {
			labels := map[string]string{}
			for _, pair := range metric.GetLabel() {
				labels[pair.GetName()] = pair.GetValue()
			}
			if labels["path"] == "/jobs/:state" && labels["status"] == "200" && metric.GetCounter().GetValue() == 1 {
				found = true
			}
		}
	}
	if !found {
		t.Fatal("expected http_requests_total sample for /jobs/:state")
	}
}

// Registries are independent, so two of them can carry the same collectors.
func TestRegistry_Isolated(t *testing.T) {
	first := NewRegistry()
	second := NewRegistry()

	counter := func() prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{Name: "mailqueue_test_total", Help: "test"})
	}
	if err := first.Register(counter()); err != nil {
		t.Fatalf("register on first: %v", err)
	}
	if err := second.Registerer().Register(counter()); err != nil {
		t.Fatalf("register on second: %v", err)
	}
	if err := first.Register(counter()); err == nil {
		t.Fatal("expected duplicate registration on the same registry to fail")
	}
}
