// Package exporter ships the trace as OpenTelemetry spans: one process
// root span per session, one child span per admitted syscall, sibling
// compute-block spans for sampled statistical work, and transpiler
// decisions as events on the root span.
//
// Export failures never abort tracing. Every failure path degrades to a
// one-line diagnostic and a failed-flush counter; the tracer's primary
// contract is tracing, not exporting.
package exporter

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/paiml/renacer/internal/diag"
	"github.com/paiml/renacer/internal/model"
	"github.com/paiml/renacer/internal/sampler"
	"github.com/paiml/renacer/internal/sys"
	"github.com/paiml/renacer/internal/tracectx"
)

// ShutdownTimeout bounds the synchronous flush at teardown.
const ShutdownTimeout = 5 * time.Second

// Config wires the exporter to its endpoint and session identity.
type Config struct {
	// Endpoint is the OTLP receiver: http(s)://host:4318 selects OTLP
	// HTTP; grpc:// URLs, http://host:4317 and bare host:port endpoints
	// dial OTLP gRPC (default port 4317). Other URL schemes are rejected.
	Endpoint string

	// ServiceName becomes the service.name resource attribute.
	ServiceName string

	// Parent, when non-nil, makes the process root span a child of the
	// externally supplied trace context.
	Parent *tracectx.Context

	// ProcessCommand and ProcessPID describe the tracee.
	ProcessCommand string
	ProcessPID     int

	// AnchorWall/AnchorMono convert the engine's monotonic nanosecond
	// timestamps to wall-clock span times.
	AnchorWall time.Time
	AnchorMono uint64

	// Sampler gates span admission; nil exports everything.
	Sampler *sampler.Sampler

	// Batching knobs; zero values take the SDK defaults.
	BatchTimeout time.Duration
	MaxQueueSize int
	MaxBatchSize int
}

// Exporter owns the OTel SDK wiring for one session.
type Exporter struct {
	cfg      Config
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
	clock    tracectx.LamportClock

	rootCtx  context.Context
	rootSpan trace.Span

	dropped atomic.Uint64
	failed  func(format string, args ...interface{})
}

// New builds the exporter and its batch pipeline. The returned error is
// for configuration problems only; connection failures surface later as
// diagnostics, never as tracer aborts.
func New(cfg Config) (*Exporter, error) {
	client, err := newClient(cfg.Endpoint)
	if err != nil {
		return nil, err
	}

	otlpExporter, err := otlptrace.New(context.Background(), client)
	if err != nil {
		return nil, fmt.Errorf("create OTLP exporter: %w", err)
	}

	res, err := sdkresource.Merge(sdkresource.Default(), sdkresource.NewSchemaless(
		semconv.ServiceName(cfg.ServiceName),
		attribute.String("process.command", cfg.ProcessCommand),
		attribute.Int("process.pid", cfg.ProcessPID),
		attribute.String("compute.library", "renacer-stats"),
		attribute.String("compute.library.version", "1"),
		attribute.String("compute.tracing.abstraction", "block_level"),
	))
	if err != nil {
		return nil, fmt.Errorf("build resource: %w", err)
	}

	var bspOpts []sdktrace.BatchSpanProcessorOption
	if cfg.BatchTimeout > 0 {
		bspOpts = append(bspOpts, sdktrace.WithBatchTimeout(cfg.BatchTimeout))
	}
	if cfg.MaxQueueSize > 0 {
		bspOpts = append(bspOpts, sdktrace.WithMaxQueueSize(cfg.MaxQueueSize))
	}
	if cfg.MaxBatchSize > 0 {
		bspOpts = append(bspOpts, sdktrace.WithMaxExportBatchSize(cfg.MaxBatchSize))
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(sdktrace.NewBatchSpanProcessor(otlpExporter, bspOpts...)),
	)

	return &Exporter{
		cfg:      cfg,
		provider: provider,
		tracer:   provider.Tracer("renacer"),
		failed:   diag.Once(diag.KindExporter),
	}, nil
}

// newClient selects OTLP HTTP for http(s) URLs and OTLP gRPC otherwise.
func newClient(endpoint string) (otlptrace.Client, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("empty OTLP endpoint")
	}
	if !strings.Contains(endpoint, "://") {
		// bare host:port; url.Parse would misread the host as a scheme
		return otlptracegrpc.NewClient(
			otlptracegrpc.WithEndpoint(endpoint),
			otlptracegrpc.WithInsecure(),
		), nil
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse OTLP endpoint %q: %w", endpoint, err)
	}
	switch u.Scheme {
	case "https":
		return otlptracehttp.NewClient(otlptracehttp.WithEndpoint(u.Host)), nil
	case "http":
		if strings.HasSuffix(u.Host, ":4317") {
			// grpc-style URL written with an http scheme; dial gRPC
			return otlptracegrpc.NewClient(
				otlptracegrpc.WithEndpoint(u.Host),
				otlptracegrpc.WithInsecure(),
			), nil
		}
		return otlptracehttp.NewClient(
			otlptracehttp.WithEndpoint(u.Host),
			otlptracehttp.WithInsecure(),
		), nil
	case "grpc", "":
		host := u.Host
		if host == "" {
			host = endpoint
		}
		return otlptracegrpc.NewClient(
			otlptracegrpc.WithEndpoint(host),
			otlptracegrpc.WithInsecure(),
		), nil
	default:
		return nil, fmt.Errorf("unsupported OTLP endpoint scheme %q", u.Scheme)
	}
}

// ensureRoot starts the process root span on first emission, causally
// linked under the supplied remote parent when one exists.
func (e *Exporter) ensureRoot() {
	if e.rootSpan != nil {
		return
	}

	ctx := context.Background()
	if p := e.cfg.Parent; p != nil {
		sc := trace.NewSpanContext(trace.SpanContextConfig{
			TraceID:    trace.TraceID(p.TraceID),
			SpanID:     trace.SpanID(p.ParentID),
			TraceFlags: trace.TraceFlags(p.Flags),
			Remote:     true,
		})
		ctx = trace.ContextWithRemoteSpanContext(ctx, sc)
		// adopting a remote parent is a receive across environments:
		// sync our logical clock first
		e.clock.Observe(0)
	}

	e.rootCtx, e.rootSpan = e.tracer.Start(ctx,
		"process: "+e.cfg.ProcessCommand,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithTimestamp(e.cfg.AnchorWall),
		trace.WithAttributes(
			attribute.Int("process.pid", e.cfg.ProcessPID),
			attribute.Int64("lamport.tick", int64(e.clock.Tick())),
		),
	)
}

// wallTime converts an engine monotonic timestamp to wall clock.
func (e *Exporter) wallTime(mono uint64) time.Time {
	if mono >= e.cfg.AnchorMono {
		return e.cfg.AnchorWall.Add(time.Duration(mono - e.cfg.AnchorMono))
	}
	return e.cfg.AnchorWall.Add(-time.Duration(e.cfg.AnchorMono - mono))
}

// RecordSyscall emits one syscall span under the process root.
func (e *Exporter) RecordSyscall(rec *model.SyscallRecord) {
	cat := sampler.CategorySyscall
	if sys.IsIO(rec.Name) {
		cat = sampler.CategoryIO
	}
	if e.cfg.Sampler != nil && !e.cfg.Sampler.Admit(cat, rec.DurationMicros()) {
		return
	}

	e.ensureRoot()

	attrs := []attribute.KeyValue{
		attribute.String("syscall.name", rec.Name),
		attribute.Int64("syscall.result", rec.Result),
		attribute.Float64("syscall.duration_us", rec.DurationMicros()),
		attribute.Int64("lamport.tick", int64(e.clock.Tick())),
	}
	if rec.Source != nil {
		attrs = append(attrs,
			attribute.String("code.filepath", rec.Source.File),
			attribute.Int("code.lineno", rec.Source.Line),
		)
	}

	_, span := e.tracer.Start(e.rootCtx,
		"syscall: "+rec.Name,
		trace.WithTimestamp(e.wallTime(rec.EntryTime)),
		trace.WithAttributes(attrs...),
	)
	if rec.Failed() {
		span.SetStatus(codes.Error, sys.ErrnoName(rec.Errno()))
	}
	span.End(trace.WithTimestamp(e.wallTime(rec.ExitTime)))
}

// RecordComputeBlock emits one compute-block span under the process root.
func (e *Exporter) RecordComputeBlock(op string, durationMicros float64, elements int, isSlow bool) {
	if e.cfg.Sampler != nil && !e.cfg.Sampler.Admit(sampler.CategoryCompute, durationMicros) {
		return
	}

	e.ensureRoot()

	end := time.Now()
	start := end.Add(-time.Duration(durationMicros * float64(time.Microsecond)))
	_, span := e.tracer.Start(e.rootCtx,
		"compute_block: "+op,
		trace.WithTimestamp(start),
		trace.WithAttributes(
			attribute.String("compute.operation", op),
			attribute.Float64("compute.duration_us", durationMicros),
			attribute.Int("compute.elements", elements),
			attribute.Bool("compute.is_slow", isSlow),
			attribute.Int64("lamport.tick", int64(e.clock.Tick())),
		),
	)
	span.End(trace.WithTimestamp(end))
}

// RecordDecision attaches one transpiler decision as a span event on the
// process root span.
func (e *Exporter) RecordDecision(category, name, result string, timestampMicros uint64) {
	e.ensureRoot()
	e.rootSpan.AddEvent("decision",
		trace.WithAttributes(
			attribute.String("decision.category", category),
			attribute.String("decision.name", name),
			attribute.String("decision.result", result),
			attribute.Int64("decision.timestamp_us", int64(timestampMicros)),
			attribute.Int64("lamport.tick", int64(e.clock.Tick())),
		),
	)
}

// Dropped returns the number of failed export flushes (one per failed
// shutdown flush). It does not count the individual spans lost in a
// failed flush or dropped from a full queue.
func (e *Exporter) Dropped() uint64 {
	return e.dropped.Load()
}

// Shutdown ends the root span and flushes the batch pipeline within the
// shutdown window. All summary printing must have happened already.
func (e *Exporter) Shutdown() {
	if e.rootSpan != nil {
		e.rootSpan.End()
	}

	ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := e.provider.Shutdown(ctx); err != nil {
		e.dropped.Add(1)
		e.failed("OTLP flush failed: %v", err)
	}
}
