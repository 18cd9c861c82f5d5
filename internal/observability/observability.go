// Package observability wires OpenTelemetry metrics and tracing for an
// Athena daemon and keeps a small local rollup (recent retrieval
// latencies, lifetime counters) queryable without a metrics backend,
// for the system.metrics tool.
package observability

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/shawkridge/athena/internal/gateway"
	"github.com/shawkridge/athena/internal/types"
)

// MetricsSnapshot is a point-in-time readout of the counters and
// histograms a Recorder maintains, the data backing the system.metrics
// tool.
type MetricsSnapshot struct {
	UptimeSeconds         float64
	RetrievalP50Ms        float64
	RetrievalP99Ms        float64
	EmbeddingCacheHitRate float64
	ConsolidationRuns     int64
	GateViolationsTotal   int64
}

// MetricsSource produces a MetricsSnapshot. Satisfied by *Recorder.
type MetricsSource interface {
	Snapshot() MetricsSnapshot
}

// HealthSource reports the gateway's aggregate decision health for a
// project, the data backing the system.health tool. Satisfied directly
// by *gateway.Engine.
type HealthSource interface {
	Health(ctx context.Context, projectID types.ID) (*gateway.HealthReport, error)
}

// HitRater is satisfied by retrieval.EmbeddingCache. Defined locally so
// this package doesn't import retrieval (which would own the cache).
type HitRater interface {
	HitRate() float64
}

// Recorder holds the OTel instruments an Athena daemon feeds from its
// retrieval, consolidation and gateway call sites, plus enough local
// state to answer system.metrics without a collector attached.
//
// Every Record* method is safe for concurrent use and safe to call on a
// nil *Recorder, so collaborators can take an optional *Recorder field
// and skip instrumentation entirely when none is configured.
type Recorder struct {
	tracer trace.Tracer

	mp *sdkmetric.MeterProvider
	tp *sdktrace.TracerProvider

	gateViolations    metric.Int64Counter
	consolidationRuns metric.Int64Counter
	retrievalLatency  metric.Float64Histogram

	gateViolationsTotal    atomic.Int64
	consolidationRunsTotal atomic.Int64
	window                 *latencyWindow

	cache HitRater
}

// New builds a Recorder exporting metrics and traces to stderr (stdout
// is reserved for the daemon's tool-call transport). cache may be nil;
// a nil cache simply reports a zero embedding cache hit rate.
func New(serviceName string, cache HitRater) (*Recorder, func(context.Context) error, error) {
	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceNameKey.String(serviceName),
	)

	traceExporter, err := stdouttrace.New(stdouttrace.WithWriter(os.Stderr))
	if err != nil {
		return nil, nil, fmt.Errorf("building trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(traceExporter), sdktrace.WithResource(res))
	otel.SetTracerProvider(tp)

	metricExporter, err := stdoutmetric.New(stdoutmetric.WithWriter(os.Stderr))
	if err != nil {
		_ = tp.Shutdown(context.Background())
		return nil, nil, fmt.Errorf("building metric exporter: %w", err)
	}
	reader := sdkmetric.NewPeriodicReader(metricExporter, sdkmetric.WithInterval(60*time.Second))
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader), sdkmetric.WithResource(res))
	otel.SetMeterProvider(mp)

	meter := mp.Meter("github.com/shawkridge/athena/observability")
	tracer := tp.Tracer("github.com/shawkridge/athena/observability")

	r := &Recorder{tracer: tracer, mp: mp, tp: tp, window: newLatencyWindow(512), cache: cache}

	r.gateViolations, _ = meter.Int64Counter("athena.gateway.violations",
		metric.WithDescription("verification gateway violations recorded"),
		metric.WithUnit("{violation}"),
	)
	r.consolidationRuns, _ = meter.Int64Counter("athena.consolidation.runs",
		metric.WithDescription("consolidation engine runs completed"),
		metric.WithUnit("{run}"),
	)
	r.retrievalLatency, _ = meter.Float64Histogram("athena.retrieval.latency",
		metric.WithDescription("hybrid retrieval search latency"),
		metric.WithUnit("ms"),
	)

	shutdown := func(ctx context.Context) error {
		if err := tp.Shutdown(ctx); err != nil {
			return err
		}
		return mp.Shutdown(ctx)
	}
	return r, shutdown, nil
}

// Tracer returns the instrumentation tracer for spans around daemon
// operations (tool dispatch, background jobs).
func (r *Recorder) Tracer() trace.Tracer {
	if r == nil {
		return nil
	}
	return r.tracer
}

// RecordRetrievalLatency records one retrieval.Search call's wall time.
func (r *Recorder) RecordRetrievalLatency(ctx context.Context, ms float64) {
	if r == nil {
		return
	}
	if r.retrievalLatency != nil {
		r.retrievalLatency.Record(ctx, ms)
	}
	r.window.add(ms)
}

// RecordConsolidationRun counts one completed consolidation.Engine.Run.
func (r *Recorder) RecordConsolidationRun(ctx context.Context) {
	if r == nil {
		return
	}
	if r.consolidationRuns != nil {
		r.consolidationRuns.Add(ctx, 1)
	}
	r.consolidationRunsTotal.Add(1)
}

// RecordGateOutcome tallies the violations recorded against a single
// verification gateway decision, broken down by gate name.
func (r *Recorder) RecordGateOutcome(ctx context.Context, outcome *types.DecisionOutcome) {
	if r == nil || outcome == nil {
		return
	}
	for _, g := range outcome.Gates {
		n := len(g.Violations)
		if n == 0 {
			continue
		}
		if r.gateViolations != nil {
			r.gateViolations.Add(ctx, int64(n), metric.WithAttributes(attribute.String("gate", string(g.Gate))))
		}
		r.gateViolationsTotal.Add(int64(n))
	}
}

// Snapshot implements MetricsSource.
func (r *Recorder) Snapshot() MetricsSnapshot {
	if r == nil {
		return MetricsSnapshot{}
	}
	p50, p99 := r.window.percentiles()
	var hitRate float64
	if r.cache != nil {
		hitRate = r.cache.HitRate()
	}
	return MetricsSnapshot{
		RetrievalP50Ms:        p50,
		RetrievalP99Ms:        p99,
		EmbeddingCacheHitRate: hitRate,
		ConsolidationRuns:     r.consolidationRunsTotal.Load(),
		GateViolationsTotal:   r.gateViolationsTotal.Load(),
	}
}

// latencyWindow is a fixed-capacity ring buffer of recent samples, used
// to compute approximate percentiles without retaining unbounded
// history.
type latencyWindow struct {
	mu      sync.Mutex
	samples []float64
	next    int
	filled  bool
}

func newLatencyWindow(capacity int) *latencyWindow {
	return &latencyWindow{samples: make([]float64, capacity)}
}

func (w *latencyWindow) add(v float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.samples[w.next] = v
	w.next++
	if w.next == len(w.samples) {
		w.next = 0
		w.filled = true
	}
}

func (w *latencyWindow) percentiles() (p50, p99 float64) {
	w.mu.Lock()
	n := w.next
	if w.filled {
		n = len(w.samples)
	}
	if n == 0 {
		w.mu.Unlock()
		return 0, 0
	}
	cp := make([]float64, n)
	copy(cp, w.samples[:n])
	w.mu.Unlock()

	sort.Float64s(cp)
	return percentileOf(cp, 0.50), percentileOf(cp, 0.99)
}

func percentileOf(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p * float64(len(sorted)-1))
	return sorted[idx]
}
