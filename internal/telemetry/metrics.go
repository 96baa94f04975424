// Package telemetry holds the Prometheus instruments and OpenTelemetry setup
// shared by the gateway's components.
//
// A nil *Metrics is valid and records nothing, so library code can accept
// metrics as an optional dependency without guarding every call.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "sitemcp"

// Metrics groups every counter and histogram the gateway exports.
type Metrics struct {
	decisions        *prometheus.CounterVec
	keyFetches       *prometheus.CounterVec
	keyFetchDuration prometheus.Histogram
	keyCacheLookups  *prometheus.CounterVec
	toolCalls        *prometheus.CounterVec
}

// NewMetrics creates the instruments and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_decisions_total",
			Help:      "Authentication gate decisions by result and failure kind.",
		}, []string{"result", "kind"}),
		keyFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "key_fetches_total",
			Help:      "Network fetches of verification keys by result.",
		}, []string{"result"}),
		keyFetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "key_fetch_duration_seconds",
			Help:      "Latency of verification key fetches.",
			Buckets:   prometheus.DefBuckets,
		}),
		keyCacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "key_cache_lookups_total",
			Help:      "Key cache lookups by result (hit, miss, error).",
		}, []string{"result"}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "MCP tool invocations by tool and result.",
		}, []string{"tool", "result"}),
	}

	reg.MustRegister(m.decisions, m.keyFetches, m.keyFetchDuration, m.keyCacheLookups, m.toolCalls)
	return m
}

// Decision records one gate outcome. kind is empty for allowed requests.
func (m *Metrics) Decision(allowed bool, kind string) {
	if m == nil {
		return
	}
	result := "deny"
	if allowed {
		result = "allow"
		kind = "none"
	}
	m.decisions.WithLabelValues(result, kind).Inc()
}

// KeyFetch records one completed key fetch.
func (m *Metrics) KeyFetch(result string, took time.Duration) {
	if m == nil {
		return
	}
	m.keyFetches.WithLabelValues(result).Inc()
	m.keyFetchDuration.Observe(took.Seconds())
}

// KeyCacheLookup records a cache hit, miss or error.
func (m *Metrics) KeyCacheLookup(result string) {
	if m == nil {
		return
	}
	m.keyCacheLookups.WithLabelValues(result).Inc()
}

// ToolCall records one tool invocation.
func (m *Metrics) ToolCall(tool, result string) {
	if m == nil {
		return
	}
	m.toolCalls.WithLabelValues(tool, result).Inc()
}

// Decisions exposes the decision counter for assertions in tests.
func (m *Metrics) Decisions() *prometheus.CounterVec { return m.decisions }

// KeyFetches exposes the fetch counter for assertions in tests.
func (m *Metrics) KeyFetches() *prometheus.CounterVec { return m.keyFetches }

// KeyCacheLookups exposes the cache lookup counter for assertions in tests.
func (m *Metrics) KeyCacheLookups() *prometheus.CounterVec { return m.keyCacheLookups }

// ToolCalls exposes the tool call counter for assertions in tests.
func (m *Metrics) ToolCalls() *prometheus.CounterVec { return m.toolCalls }
