package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func TestSetupNoopWhenEndpointEmpty(t *testing.T) {
	shutdown, err := Setup(context.Background(), "test-service", "")
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestSetupCreatesProviderWhenEndpointSet(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	// Non-routable address so nothing is exported.
	shutdown, err := Setup(context.Background(), "test-service", "http://192.0.2.1:4318")
	require.NoError(t, err)
	_, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider)
	assert.True(t, ok)
	assert.NoError(t, shutdown(context.Background()))
}

func TestCommandSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	_, span := StartCommand(context.Background(), "openPublication", attribute.String("pubchannel.identifier", "moby"))
	EndCommand(span, "", nil)
	_, span = StartCommand(context.Background(), "get")
	EndCommand(span, "LookupFailure", errors.New("missing"))

	spans := recorder.Ended()
	require.Len(t, spans, 2)

	open := spans[0]
	assert.Equal(t, "pubchannel/openPublication", open.Name())
	assert.Equal(t, trace.SpanKindServer, open.SpanKind())
	assert.Equal(t, codes.Unset, open.Status().Code)
	assert.Contains(t, open.Attributes(), attribute.String("pubchannel.identifier", "moby"))
	assert.Contains(t, open.Attributes(), attribute.String("rpc.method", "openPublication"))

	get := spans[1]
	assert.Equal(t, codes.Error, get.Status().Code)
	assert.Equal(t, "missing", get.Status().Description)
	assert.Contains(t, get.Attributes(), attribute.String("pubchannel.error_code", "LookupFailure"))
	require.Len(t, get.Events(), 1)
	assert.Equal(t, "exception", get.Events()[0].Name)
}
