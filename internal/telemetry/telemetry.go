// Package telemetry holds the counters and spans emitted while persisting call graphs.
//
// Counters live in a private prometheus registry rather than the default one so
// that a short-lived build step can dump them to a node_exporter textfile
// without picking up Go runtime collectors.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const namespace = "callgraphs"

// tracerName scopes every span this module emits.
const tracerName = "github.com/CamFlow/callgraphs"

// Registry gathers every collector declared in this package.
var Registry = prometheus.NewRegistry()

var (
	NodesCreated      = newCounter("nodes_created_total", "Function rows inserted.")
	NodesUpdated      = newCounter("nodes_updated_total", "Function rows whose location was rewritten.")
	EdgesCreated      = newCounter("edges_created_total", "Call rows inserted.")
	CallersSkipped    = newCounter("callers_skipped_total", "Persist calls skipped because the caller was already registered.")
	IdentityConflicts = newCounter("identity_conflicts_total", "Inserts that lost a uniqueness race and re-resolved.")
	PersistRetries    = newCounter("persist_retries_total", "Persist transactions retried after the store was busy.")
	PersistFailures   = newCounter("persist_failures_total", "Persist calls that returned an error.")
	PersistDuration   = newHistogram("persist_duration_seconds", "Wall time of one persist call including retries.")
	UnitsAnalyzed     = newCounter("units_analyzed_total", "Translation units parsed by the analyzer.")
	UnitsFailed       = newCounter("units_failed_total", "Translation units that could not be read or parsed.")
)

func newCounter(name, help string) prometheus.Counter {
	c := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	})
	Registry.MustRegister(c)
	return c
}

func newHistogram(name, help string) prometheus.Histogram {
	h := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
		Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
	})
	Registry.MustRegister(h)
	return h
}

// ObserveSince records the time elapsed since start in h.
func ObserveSince(h prometheus.Histogram, start time.Time) {
	h.Observe(time.Since(start).Seconds())
}

// WriteTextfile writes the registry in the text exposition format to path.
func WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, Registry); err != nil {
		return fmt.Errorf("write metrics to %s: %w", path, err)
	}
	return nil
}

// StartPersistSpan opens the span wrapping one persist call.
func StartPersistSpan(ctx context.Context, caller, file string, callees int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "SQLiteStore.Persist",
		trace.WithAttributes(
			attribute.String("callgraph.caller", caller),
			attribute.String("callgraph.file", file),
			attribute.Int("callgraph.callees", callees),
		),
	)
}

// StartUnitSpan opens the span wrapping the analysis and persistence of one unit.
func StartUnitSpan(ctx context.Context, unit string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "Indexer.RecordUnit",
		trace.WithAttributes(attribute.String("callgraph.unit", unit)),
	)
}

// EndSpan records err on span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
