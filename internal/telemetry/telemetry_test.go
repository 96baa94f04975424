package telemetry

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.Decision(true, "")
	m.KeyFetch("ok", time.Millisecond)
	m.KeyCacheLookup("hit")
	m.ToolCall("site_info", "ok")
}

func TestDecisionLabels(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.Decision(true, "ignored")
	m.Decision(false, "tenant_mismatch")
	m.Decision(false, "tenant_mismatch")

	if got := testutil.ToFloat64(m.Decisions().WithLabelValues("allow", "none")); got != 1 {
		t.Errorf("allow count = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.Decisions().WithLabelValues("deny", "tenant_mismatch")); got != 2 {
		t.Errorf("deny tenant_mismatch count = %v, want 2", got)
	}
}

func TestTracingEndpoint(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{name: "unset", env: map[string]string{}, want: ""},
		{name: "generic", env: map[string]string{"OTEL_EXPORTER_OTLP_ENDPOINT": "http://collector:4318"}, want: "http://collector:4318"},
		{
			name: "traces wins",
			env: map[string]string{
				"OTEL_EXPORTER_OTLP_ENDPOINT":        "http://collector:4318",
				"OTEL_EXPORTER_OTLP_TRACES_ENDPOINT": "http://traces:4318",
			},
			want: "http://traces:4318",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lookup := func(k string) (string, bool) {
				v, ok := tt.env[k]
				return v, ok
			}
			if got := TracingEndpoint(lookup); got != tt.want {
				t.Errorf("TracingEndpoint() = %q, want %q", got, tt.want)
			}
		})
	}
}
