package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

// recordSpans installs an in-memory tracer provider for the test.
func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
	return rec
}

func attrs(s sdktrace.ReadOnlySpan) map[attribute.Key]attribute.Value {
	m := make(map[attribute.Key]attribute.Value)
	for _, kv := range s.Attributes() {
		m[kv.Key] = kv.Value
	}
	return m
}

func TestInitTracing_Disabled(t *testing.T) {
	for _, cfg := range []*TracingConfig{nil, {ServiceName: "test"}} {
		tp, err := InitTracing(context.Background(), cfg)
		require.NoError(t, err)
		assert.False(t, tp.Enabled())
		assert.NotNil(t, tp.Tracer())
		assert.NoError(t, tp.Shutdown(context.Background()))
	}
	assert.NoError(t, (&TracerProvider{}).Shutdown(context.Background()))
}

func TestSampler(t *testing.T) {
	assert.Contains(t, sampler(1).Description(), "AlwaysOnSampler")
	assert.Contains(t, sampler(0).Description(), "AlwaysOffSampler")
	assert.Contains(t, sampler(0.25).Description(), "TraceIDRatioBased{0.25}")
	assert.Contains(t, sampler(0.25).Description(), "ParentBased")
}

func TestStartBuildSpan(t *testing.T) {
	rec := recordSpans(t)

	_, span := StartBuildSpan(context.Background(), "/src/app")
	RecordBuildResult(span, 12, 30, 150*time.Millisecond)
	span.End()

	ended := rec.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "graph.build", ended[0].Name())
	a := attrs(ended[0])
	assert.Equal(t, StageBuild, a["gopkgview.stage"].AsString())
	assert.Equal(t, "/src/app", a["build.root"].AsString())
	assert.Equal(t, int64(12), a["graph.nodes"].AsInt64())
	assert.Equal(t, int64(150), a["elapsed_ms"].AsInt64())
}

func TestStartLayoutSpan(t *testing.T) {
	rec := recordSpans(t)

	_, span := StartLayoutSpan(context.Background(), "elk", 7, 40)
	RecordLayoutResult(span, time.Second, errors.New("layout service down"))
	span.End()
	_, span = StartLayoutSpan(context.Background(), "layered", 8, 40)
	span.End()

	ended := rec.Ended()
	require.Len(t, ended, 2)
	elk, layered := ended[0], ended[1]
	assert.Equal(t, "layout.elk", elk.Name())
	assert.Equal(t, trace.SpanKindClient, elk.SpanKind())
	assert.Equal(t, codes.Error, elk.Status().Code)
	assert.Equal(t, int64(7), attrs(elk)["layout.generation"].AsInt64())
	assert.Equal(t, trace.SpanKindInternal, layered.SpanKind())
	assert.Equal(t, codes.Unset, layered.Status().Code)
}

func TestStartDeriveSpan(t *testing.T) {
	rec := recordSpans(t)

	_, span := StartDeriveSpan(context.Background(), "example.com/app", "")
	span.End()

	require.Len(t, rec.Ended(), 1)
	s := rec.Ended()[0]
	assert.Equal(t, "view.derive", s.Name())
	assert.Equal(t, "example.com/app", attrs(s)["view.selected"].AsString())
}

func TestRecordError(t *testing.T) {
	rec := recordSpans(t)
	_, span := StartStoreSpan(context.Background(), "write")

	RecordError(span, nil)
	RecordError(span, errors.New("test error"))
	span.End()

	s := rec.Ended()[0]
	assert.Equal(t, "store.write", s.Name())
	assert.Equal(t, codes.Error, s.Status().Code)
	assert.Equal(t, "test error", s.Status().Description)
	assert.Len(t, s.Events(), 1, "nil error records nothing")
}

func TestNestedSpans(t *testing.T) {
	rec := recordSpans(t)

	ctx, buildSpan := StartBuildSpan(context.Background(), ".")
	_, layoutSpan := StartLayoutSpan(ctx, "layered", 1, 3)
	layoutSpan.End()
	buildSpan.End()

	ended := rec.Ended()
	require.Len(t, ended, 2)
	assert.Equal(t, ended[1].SpanContext().SpanID(), ended[0].Parent().SpanID())
}
