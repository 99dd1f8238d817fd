package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollectors(t *testing.T) {
	m := NewWithRegistry(prometheus.NewRegistry())

	m.DocumentLoaded()
	m.DocumentLoaded()
	m.DocumentUnloaded()
	m.ConnectionOpened()
	m.ObserveLoad("cached", 3*time.Millisecond)
	m.ObserveLoad("cached", time.Millisecond)
	m.ObserveLoad("error", time.Second)
	m.ObserveSeed("plaintext")
	m.UpdateRelayed()
	m.StoreFlushed(nil)
	m.StoreFlushed(errors.New("boom"))

	if got := testutil.ToFloat64(m.documents); got != 1 {
		t.Errorf("documents = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.connections); got != 1 {
		t.Errorf("connections = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.loads.WithLabelValues("cached")); got != 2 {
		t.Errorf("cached loads = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.seeds.WithLabelValues("plaintext")); got != 1 {
		t.Errorf("plaintext seeds = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.storeFlushes.WithLabelValues("error")); got != 1 {
		t.Errorf("failed flushes = %v, want 1", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.DocumentLoaded()
	m.ConnectionClosed()
	m.ObserveLoad("loaded", time.Millisecond)
	m.ObserveSeed("empty")
	m.UpdateRelayed()
	m.StoreFlushed(nil)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.UpdateRelayed()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{"docsync_updates_relayed_total 1", "go_goroutines"} {
		if !strings.Contains(body, want) {
			t.Errorf("body missing %q", want)
		}
	}
}
