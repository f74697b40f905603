package metrics_test

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"recast/internal/metrics"
)

func TestRecorderExportsInstruments(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := metrics.New(reg)

	rec.ObserveStage("TRANSCRIBING", "failed", "transient", 2*time.Second)
	rec.ObserveStage("TRANSCRIBING", "failed", "transient", time.Second)
	rec.ObserveTarget("youtube", "uploaded")
	rec.IncQuotaRejection("acme", "concurrent_tasks")
	rec.IncAutoRetry("TRANSCRIBING")
	rec.PoolAdd("io", 1)
	rec.PoolAdd("io", 1)
	rec.PoolAdd("io", -1)

	count, err := testutil.GatherAndCount(reg, "recast_stage_duration_seconds")
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected one histogram series, got %d", count)
	}
	metricsFamilies, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(metricsFamilies) != 6 {
		t.Fatalf("expected 6 metric families, got %d", len(metricsFamilies))
	}
}

func TestRecorderCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := metrics.New(reg)
	rec.IncQuotaRejection("acme", "monthly_items")
	rec.IncQuotaRejection("acme", "monthly_items")
	rec.PoolAdd("cpu", 2)

	if got := sampleValue(t, reg, "recast_quota_rejections_total"); got != 2 {
		t.Fatalf("expected 2 rejections, got %v", got)
	}
	if got := sampleValue(t, reg, "recast_pool_in_flight"); got != 2 {
		t.Fatalf("expected gauge 2, got %v", got)
	}
}

func TestNilRecorderIsSafe(t *testing.T) {
	var rec *metrics.Recorder
	rec.ObserveStage("x", "y", "z", time.Second)
	rec.ObserveTarget("vk", "failed")
	rec.IncQuotaRejection("t", "r")
	rec.IncAutoRetry("s")
	rec.PoolAdd("io", 1)
	rec.ObserveHTTP(200, "GET", "/api/status", time.Millisecond)

	empty := metrics.New(nil)
	empty.ObserveStage("x", "y", "z", time.Second)
}

func TestRecorderHTTPUsesRoutePattern(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := metrics.New(reg)
	rec.ObserveHTTP(404, "GET", "/api/recordings/{id}", 3*time.Millisecond)
	rec.ObserveHTTP(404, "GET", "/api/recordings/{id}", time.Millisecond)

	if got := sampleValue(t, reg, "recast_http_requests_total"); got != 2 {
		t.Fatalf("expected 2 requests, got %v", got)
	}
	count, err := testutil.GatherAndCount(reg, "recast_http_request_duration_seconds")
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected one latency series, got %d", count)
	}
}

func sampleValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name || len(mf.GetMetric()) == 0 {
			continue
		}
		m := mf.GetMetric()[0]
		if c := m.GetCounter(); c != nil {
			return c.GetValue()
		}
		if g := m.GetGauge(); g != nil {
			return g.GetValue()
		}
	}
	t.Fatalf("metric %q not found", name)
	return 0
}
