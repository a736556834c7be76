// Package observability provides OpenTelemetry tracing, Prometheus-style
// metrics and an audit log for gopkgview.
package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation scope of every gopkgview span.
const TracerName = "github.com/grishy/gopkgview"

// Span attribute keys.
var (
	keyStage      = attribute.Key("gopkgview.stage")
	keyRoot       = attribute.Key("build.root")
	keyNodes      = attribute.Key("graph.nodes")
	keyEdges      = attribute.Key("graph.edges")
	keyElapsedMS  = attribute.Key("elapsed_ms")
	keySelected   = attribute.Key("view.selected")
	keyHovered    = attribute.Key("view.hovered")
	keyEngine     = attribute.Key("layout.engine")
	keyGeneration = attribute.Key("layout.generation")
	keyLayoutSize = attribute.Key("layout.nodes")
)

// Pipeline stages recorded under gopkgview.stage.
const (
	StageBuild  = "build"
	StageDerive = "derive"
	StageLayout = "layout"
	StageStore  = "store"
)

// TracingConfig configures OpenTelemetry. Tracing stays off, with spans
// going to the global no-op provider, while OTLPEndpoint is empty.
type TracingConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string  // OTLP gRPC, e.g. localhost:4317
	SampleRate     float64 // 0 samples nothing, 1 samples everything
}

// DefaultTracingConfig returns tracing settings for a local run.
func DefaultTracingConfig() *TracingConfig {
	return &TracingConfig{
		ServiceName:    "gopkgview",
		ServiceVersion: "dev",
		Environment:    "development",
		SampleRate:     1.0,
	}
}

// TracerProvider owns the SDK provider when tracing is exported.
type TracerProvider struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// InitTracing installs the global tracer provider and propagators.
func InitTracing(ctx context.Context, cfg *TracingConfig) (*TracerProvider, error) {
	if cfg == nil {
		cfg = DefaultTracingConfig()
	}
	if cfg.OTLPEndpoint == "" {
		return &TracerProvider{tracer: otel.Tracer(TracerName)}, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("otlp exporter %s: %w", cfg.OTLPEndpoint, err)
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
		semconv.DeploymentEnvironment(cfg.Environment),
	))
	if err != nil {
		return nil, fmt.Errorf("tracing resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg.SampleRate)),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))
	return &TracerProvider{provider: provider, tracer: provider.Tracer(TracerName)}, nil
}

// sampler respects the caller's sampling decision and applies rate to
// root spans only.
func sampler(rate float64) sdktrace.Sampler {
	var root sdktrace.Sampler
	switch {
	case rate >= 1:
		root = sdktrace.AlwaysSample()
	case rate <= 0:
		root = sdktrace.NeverSample()
	default:
		root = sdktrace.TraceIDRatioBased(rate)
	}
	return sdktrace.ParentBased(root)
}

// Enabled reports whether spans are exported.
func (tp *TracerProvider) Enabled() bool { return tp.provider != nil }

// Shutdown flushes pending spans.
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp.provider == nil {
		return nil
	}
	return tp.provider.Shutdown(ctx)
}

func (tp *TracerProvider) Tracer() trace.Tracer { return tp.tracer }

func startSpan(ctx context.Context, name, stage string, kind trace.SpanKind, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, keyStage.String(stage))
	return otel.Tracer(TracerName).Start(ctx, name, trace.WithSpanKind(kind), trace.WithAttributes(attrs...))
}

// StartBuildSpan wraps an import graph walk of root.
func StartBuildSpan(ctx context.Context, root string) (context.Context, trace.Span) {
	return startSpan(ctx, "graph.build", StageBuild, trace.SpanKindInternal, keyRoot.String(root))
}

func RecordBuildResult(span trace.Span, nodes, edges int, elapsed time.Duration) {
	span.SetAttributes(keyNodes.Int(nodes), keyEdges.Int(edges), keyElapsedMS.Int64(elapsed.Milliseconds()))
}

func StartDeriveSpan(ctx context.Context, selected, hovered string) (context.Context, trace.Span) {
	return startSpan(ctx, "view.derive", StageDerive, trace.SpanKindInternal,
		keySelected.String(selected), keyHovered.String(hovered))
}

// StartLayoutSpan wraps one layout generation. The ELK engine calls a
// remote service, so its spans are client spans.
func StartLayoutSpan(ctx context.Context, engine string, generation uint64, nodes int) (context.Context, trace.Span) {
	kind := trace.SpanKindInternal
	if engine == "elk" {
		kind = trace.SpanKindClient
	}
	return startSpan(ctx, "layout."+engine, StageLayout, kind,
		keyEngine.String(engine), keyGeneration.Int64(int64(generation)), keyLayoutSize.Int(nodes))
}

func RecordLayoutResult(span trace.Span, elapsed time.Duration, err error) {
	span.SetAttributes(keyElapsedMS.Int64(elapsed.Milliseconds()))
	RecordError(span, err)
}

// StartStoreSpan wraps a graph store call such as "write" or "load".
func StartStoreSpan(ctx context.Context, op string) (context.Context, trace.Span) {
	return startSpan(ctx, "store."+op, StageStore, trace.SpanKindClient)
}

// RecordError marks span failed. A nil err is ignored.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
