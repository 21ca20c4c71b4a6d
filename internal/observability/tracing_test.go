package observability

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestNewTracer_Disabled(t *testing.T) {
	t.Parallel()

	tracer, err := NewTracer(TracerConfig{ServiceName: "bifrost"})
	require.NoError(t, err)
	assert.False(t, tracer.Enabled())

	ctx, span := tracer.StartSpan(context.Background(), "proxy.forward")
	defer span.End()
	assert.False(t, span.IsRecording())

	header := http.Header{}
	tracer.InjectTraceContext(ctx, header)
	assert.Empty(t, header)

	assert.NoError(t, tracer.Shutdown(context.Background()))
}

func TestNewTracer_EnabledWithoutExporter(t *testing.T) {
	tracer, err := NewTracer(TracerConfig{
		ServiceName:  "bifrost",
		SamplingRate: 1.0,
		Enabled:      true,
	})
	require.NoError(t, err)
	defer func() { _ = tracer.Shutdown(context.Background()) }()

	assert.True(t, tracer.Enabled())

	ctx, span := tracer.StartSpan(context.Background(), "proxy.forward")
	defer span.End()
	assert.True(t, span.SpanContext().IsValid())

	header := http.Header{}
	tracer.InjectTraceContext(ctx, header)
	assert.NotEmpty(t, header.Get("traceparent"))
}

func TestNopTracer(t *testing.T) {
	t.Parallel()

	var nilTracer *Tracer
	assert.False(t, nilTracer.Enabled())
	assert.NoError(t, nilTracer.Shutdown(context.Background()))
	assert.False(t, NopTracer().Enabled())
}

func TestCreateSampler(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		rate float64
		want string
	}{
		{name: "always", rate: 1.0, want: sdktrace.AlwaysSample().Description()},
		{name: "never", rate: 0, want: sdktrace.NeverSample().Description()},
		{name: "ratio", rate: 0.5, want: sdktrace.TraceIDRatioBased(0.5).Description()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, createSampler(tt.rate).Description())
		})
	}
}
