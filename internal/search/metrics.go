package search

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

const scopeName = "github.com/thebtf/mnemo/search"

// Source says which path produced a result set.
type Source string

const (
	SourceSemantic Source = "semantic"
	SourceLexical  Source = "lexical"
)

// Metrics records search outcomes to OpenTelemetry and keeps local totals
// for the stats endpoint.
type Metrics struct {
	tracer   trace.Tracer
	semantic metric.Int64Counter
	fallback metric.Int64Counter
	duration metric.Float64Histogram

	total         atomic.Int64
	semanticCount atomic.Int64
	fallbackCount atomic.Int64
	latencyMicros atomic.Int64
}

// MetricsSnapshot is a point-in-time copy of the local totals.
type MetricsSnapshot struct {
	TotalSearches    int64   `json:"total_searches"`
	SemanticSearches int64   `json:"semantic_searches"`
	FallbackSearches int64   `json:"fallback_searches"`
	AvgLatencyMs     float64 `json:"avg_latency_ms"`
}

// NewMetrics registers instruments on the global meter provider.
func NewMetrics() *Metrics {
	return newMetrics(otel.Meter(scopeName), otel.Tracer(scopeName))
}

// newMetrics falls back to no-op instruments for any the meter rejects.
func newMetrics(meter metric.Meter, tracer trace.Tracer) *Metrics {
	semantic, err := meter.Int64Counter("mnemo.search.semantic",
		metric.WithDescription("Searches answered by the semantic backend"),
	)
	if err != nil {
		instrumentFailed(err, "mnemo.search.semantic")
		semantic = noop.Int64Counter{}
	}
	fallback, err := meter.Int64Counter("mnemo.search.fallback",
		metric.WithDescription("Searches answered by the lexical index"),
	)
	if err != nil {
		instrumentFailed(err, "mnemo.search.fallback")
		fallback = noop.Int64Counter{}
	}
	duration, err := meter.Float64Histogram("mnemo.search.duration_ms",
		metric.WithDescription("Search duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		instrumentFailed(err, "mnemo.search.duration_ms")
		duration = noop.Float64Histogram{}
	}
	return &Metrics{
		tracer:   tracer,
		semantic: semantic,
		fallback: fallback,
		duration: duration,
	}
}

func instrumentFailed(err error, name string) {
	log.Debug().Err(err).Str("instrument", name).Msg("Failed to create metric instrument")
}

// start opens a span for op; the returned func records the outcome.
func (m *Metrics) start(ctx context.Context, op string) (context.Context, func(Source)) {
	ctx, span := m.tracer.Start(ctx, "search."+op)
	began := time.Now()

	return ctx, func(source Source) {
		elapsed := time.Since(began)
		attrs := metric.WithAttributes(
			attribute.String("search.op", op),
			attribute.String("search.source", string(source)),
		)
		m.duration.Record(ctx, float64(elapsed.Microseconds())/1000, attrs)
		if source == SourceSemantic {
			m.semantic.Add(ctx, 1, attrs)
			m.semanticCount.Add(1)
		} else {
			m.fallback.Add(ctx, 1, attrs)
			m.fallbackCount.Add(1)
		}
		m.total.Add(1)
		m.latencyMicros.Add(elapsed.Microseconds())

		span.SetAttributes(attribute.String("search.source", string(source)))
		span.End()
	}
}

// Snapshot returns the local totals.
func (m *Metrics) Snapshot() MetricsSnapshot {
	total := m.total.Load()
	snap := MetricsSnapshot{
		TotalSearches:    total,
		SemanticSearches: m.semanticCount.Load(),
		FallbackSearches: m.fallbackCount.Load(),
	}
	if total > 0 {
		snap.AvgLatencyMs = float64(m.latencyMicros.Load()) / float64(total) / 1000
	}
	return snap
}
