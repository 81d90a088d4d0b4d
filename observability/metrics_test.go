package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestFeedMetricsRecordAge(t *testing.T) {
	m := Feeds()
	m.RecordUpdate("reserve", " 0xDAI ", 1_000, 1_090)
	m.RecordReject("reserve", "0xdai")

	if got := testutil.ToFloat64(m.freshness.WithLabelValues("reserve", "0xdai")); got != 90 {
		t.Fatalf("feed age = %v, want 90", got)
	}
	if got := testutil.ToFloat64(m.rejects.WithLabelValues("reserve", "0xdai")); got != 1 {
		t.Fatalf("rejects = %v, want 1", got)
	}

	// A price timestamped ahead of the block clock has no age.
	m.RecordUpdate("reserve", "0xdai", 2_000, 1_500)
	if got := testutil.ToFloat64(m.freshness.WithLabelValues("reserve", "0xdai")); got != 0 {
		t.Fatalf("future feed age = %v, want 0", got)
	}
}

func TestModuleMetricsObserve(t *testing.T) {
	m := ModuleMetrics()
	m.Observe("lending", "GET /v1/status", 200, time.Millisecond)
	m.Observe("lending", "POST /v1/ops/{op}", 429, time.Millisecond)
	m.RecordThrottle("lending", "")

	if got := testutil.ToFloat64(m.errors.WithLabelValues("lending", "POST /v1/ops/{op}", "429")); got != 1 {
		t.Fatalf("errors = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.throttles.WithLabelValues("lending", "unspecified")); got != 1 {
		t.Fatalf("throttles = %v, want 1", got)
	}
}
