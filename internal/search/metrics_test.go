package search

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

var errInstrument = errors.New("instrument rejected")

// rejectingMeter refuses every synchronous instrument.
type rejectingMeter struct{ noop.Meter }

func (rejectingMeter) Int64Counter(string, ...metric.Int64CounterOption) (metric.Int64Counter, error) {
	return nil, errInstrument
}

func (rejectingMeter) Float64Histogram(string, ...metric.Float64HistogramOption) (metric.Float64Histogram, error) {
	return nil, errInstrument
}

func captureDebugLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prevLogger, prevLevel := log.Logger, zerolog.GlobalLevel()
	log.Logger = zerolog.New(&buf)
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	t.Cleanup(func() {
		log.Logger = prevLogger
		zerolog.SetGlobalLevel(prevLevel)
	})
	return &buf
}

func TestMetrics_RejectedInstruments(t *testing.T) {
	buf := captureDebugLog(t)

	m := newMetrics(rejectingMeter{}, tracenoop.NewTracerProvider().Tracer(scopeName))
	require.NotNil(t, m)

	for _, source := range []Source{SourceSemantic, SourceLexical} {
		_, done := m.start(context.Background(), "observations")
		require.NotPanics(t, func() { done(source) })
	}

	snap := m.Snapshot()
	assert.Equal(t, int64(2), snap.TotalSearches)
	assert.Equal(t, int64(1), snap.SemanticSearches)
	assert.Equal(t, int64(1), snap.FallbackSearches)

	logged := buf.String()
	for _, name := range []string{"mnemo.search.semantic", "mnemo.search.fallback", "mnemo.search.duration_ms"} {
		assert.Contains(t, logged, name)
	}
	assert.Equal(t, 3, strings.Count(logged, `"level":"debug"`))
}

func TestMetrics_AcceptedInstruments(t *testing.T) {
	buf := captureDebugLog(t)

	m := newMetrics(noop.NewMeterProvider().Meter(scopeName), tracenoop.NewTracerProvider().Tracer(scopeName))
	_, done := m.start(context.Background(), "sessions")
	done(SourceLexical)

	assert.Equal(t, int64(1), m.Snapshot().FallbackSearches)
	assert.Empty(t, buf.String())
}
