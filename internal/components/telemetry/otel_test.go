package telemetry

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/trace"
)

type recordingSpanExporter struct {
	shutdown atomic.Bool
}

func (e *recordingSpanExporter) ExportSpans(context.Context, []trace.ReadOnlySpan) error {
	return nil
}

func (e *recordingSpanExporter) Shutdown(context.Context) error {
	e.shutdown.Store(true)
	return nil
}

func TestSetupShutsDownTracesWhenMetricsFail(t *testing.T) {
	spans := &recordingSpanExporter{}
	exporterErr := errors.New("bad metric endpoint")

	prevSpan, prevMetric := newSpanExporter, newMetricExporter
	t.Cleanup(func() {
		newSpanExporter, newMetricExporter = prevSpan, prevMetric
	})
	newSpanExporter = func(context.Context, OtlpConnConfig) (trace.SpanExporter, error) {
		return spans, nil
	}
	newMetricExporter = func(context.Context, OtlpConnConfig) (metric.Exporter, error) {
		return nil, exporterErr
	}

	before := otel.GetTracerProvider()
	tel, err := Setup(context.Background(), "test:telemetry", Config{Otlp: OtlpConfig{
		Traces:  OtlpConnConfig{HttpEndpoint: "http://localhost:4318"},
		Metrics: OtlpConnConfig{HttpEndpoint: "http://localhost:4318"},
	}})

	require.ErrorIs(t, err, exporterErr)
	require.Nil(t, tel.TracerProvider)
	require.Nil(t, tel.MeterProvider)
	require.True(t, spans.shutdown.Load())
	require.Equal(t, before, otel.GetTracerProvider())
}
