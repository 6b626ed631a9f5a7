// Package observe provides application-wide observability primitives for the
// marketplace engine: OpenTelemetry metrics, tracing, trace-aware logging,
// and HTTP middleware tying them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so everything stays
// scrapable at /metrics. A package-level default [Metrics] instance
// ([DefaultMetrics]) is provided for convenience; tests should use
// [NewMetrics] with a private [metric.MeterProvider] to avoid cross-test
// pollution.
package observe

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name for all marketplace metrics.
const meterName = "github.com/agoramesh/agora"

// Metrics holds all OpenTelemetry metric instruments for the engine.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// ToolExecutionDuration tracks total execute-call latency, validation
	// through terminal outcome. Use with attributes:
	//   attribute.String("tool", ...), attribute.String("status", ...)
	ToolExecutionDuration metric.Float64Histogram

	// ToolExecutions counts execute calls. Use with attributes:
	//   attribute.String("tool", ...), attribute.String("status", ...)
	// where status is one of "success", "failure", "invalid".
	ToolExecutions metric.Int64Counter

	// RetryAttempts counts dispatch attempts beyond the first, per tool.
	RetryAttempts metric.Int64Counter

	// EmbeddingRequests counts embedding collaborator calls. Use with:
	//   attribute.String("status", ...)
	EmbeddingRequests metric.Int64Counter

	// SearchDuration tracks discovery search latency end to end, embedding
	// included.
	SearchDuration metric.Float64Histogram

	// ToolsRegistered counts successful registrations. Use with:
	//   attribute.String("category", ...)
	ToolsRegistered metric.Int64Counter

	// HTTPRequestDuration tracks HTTP request processing time. Use with:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds). Outbound
// tool calls can legitimately take tens of seconds with retries, hence the
// long tail.
var latencyBuckets = []float64{
	0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.ToolExecutionDuration, err = m.Float64Histogram("agora.execution.duration",
		metric.WithDescription("Latency of tool executions, all attempts included."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SearchDuration, err = m.Float64Histogram("agora.search.duration",
		metric.WithDescription("Latency of semantic discovery searches."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.ToolExecutions, err = m.Int64Counter("agora.execution.calls",
		metric.WithDescription("Total tool executions by tool and status."),
	); err != nil {
		return nil, err
	}
	if met.RetryAttempts, err = m.Int64Counter("agora.execution.retries",
		metric.WithDescription("Dispatch attempts beyond the first, by tool."),
	); err != nil {
		return nil, err
	}
	if met.EmbeddingRequests, err = m.Int64Counter("agora.embedding.requests",
		metric.WithDescription("Embedding collaborator calls by status."),
	); err != nil {
		return nil, err
	}
	if met.ToolsRegistered, err = m.Int64Counter("agora.tools.registered",
		metric.WithDescription("Successful tool registrations."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("agora.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call from [otel.GetMeterProvider]. Panics if instrument creation
// fails (does not happen with the global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}
