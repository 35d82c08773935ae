// Package telemetry holds the process-wide Prometheus collectors and the
// OpenTelemetry tracer shared by the proxy, compiler and executor.
package telemetry

import (
	"context"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// TracerName identifies spans emitted by this module.
const TracerName = "github.com/orneryd/onegraph"

var (
	// RetrievalsTotal counts proxy retrievals by direction and result.
	// A result of "cached" means the direction was already mirrored.
	RetrievalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "onegraph",
		Subsystem: "proxy",
		Name:      "retrievals_total",
		Help:      "Graph proxy retrievals by direction and result",
	}, []string{"direction", "result"})

	// MirroredNodesTotal counts nodes materialized into proxies.
	MirroredNodesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "onegraph",
		Subsystem: "proxy",
		Name:      "mirrored_nodes_total",
		Help:      "Nodes materialized from the repository",
	})

	// MirroredEdgesTotal counts relationships linked into proxies.
	MirroredEdgesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "onegraph",
		Subsystem: "proxy",
		Name:      "mirrored_edges_total",
		Help:      "Relationships linked into the shared adjacency",
	})

	// CompilationsTotal counts bytecode compilations by result
	// (ok, invalid, error).
	CompilationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "onegraph",
		Subsystem: "engine",
		Name:      "compilations_total",
		Help:      "Traversal compilations by result",
	}, []string{"result"})

	// CompileDuration tracks compile latency.
	CompileDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "onegraph",
		Subsystem: "engine",
		Name:      "compile_duration_seconds",
		Help:      "Traversal compile duration in seconds",
		Buckets:   prometheus.ExponentialBuckets(0.00001, 2, 14), // 10µs to ~160ms
	})

	// PatternCacheLookups counts compiled-pattern cache lookups (hit, miss).
	PatternCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "onegraph",
		Subsystem: "cache",
		Name:      "lookups_total",
		Help:      "Compiled pattern cache lookups by result",
	}, []string{"result"})

	// ExecutionsTotal counts pattern executions by result.
	ExecutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "onegraph",
		Subsystem: "engine",
		Name:      "executions_total",
		Help:      "Pattern executions by result",
	}, []string{"result"})

	// CreatedElementsTotal counts elements committed by Create patterns.
	CreatedElementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "onegraph",
		Subsystem: "engine",
		Name:      "created_elements_total",
		Help:      "Nodes and relationships created by executed patterns",
	}, []string{"kind"})
)

// Tracer returns the module tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}

// StartSpan starts a span with the given attributes.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, trace.WithAttributes(attrs...))
}

// EndSpan records err on span (if any) and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// SetupStdoutTracing installs a global tracer provider that writes spans to
// w as pretty-printed JSON. The returned function flushes and shuts it down.
func SetupStdoutTracing(w io.Writer) (func(context.Context) error, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}
