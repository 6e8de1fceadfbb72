package observability

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestTracingConfigFromEnv(t *testing.T) {
	t.Setenv(EnvTracingEnabled, "TRUE")
	t.Setenv(EnvTracingExporter, "OTLP")
	t.Setenv(EnvTracingService, "")
	t.Setenv(EnvTracingSampleRatio, "0.25")
	t.Setenv(EnvOTLPEndpoint, "")

	cfg := TracingConfigFromEnv("lightpathd")
	if !cfg.Enabled || cfg.Exporter != "otlp" || cfg.ServiceName != "lightpathd" {
		t.Fatalf("config = %+v", cfg)
	}
	if cfg.SampleRatio != 0.25 || cfg.Endpoint != defaultOTLPEndpoint {
		t.Fatalf("ratio %v endpoint %q", cfg.SampleRatio, cfg.Endpoint)
	}

	t.Setenv(EnvTracingSampleRatio, "2")
	if got := TracingConfigFromEnv("x").SampleRatio; got != 1 {
		t.Fatalf("out-of-range ratio = %v, want 1", got)
	}
}

func TestInitTracing(t *testing.T) {
	ctx := context.Background()
	shutdown, err := InitTracing(ctx, TracingConfig{}, nil)
	if err != nil {
		t.Fatalf("InitTracing(disabled): %v", err)
	}
	if err := shutdown(ctx); err != nil {
		t.Fatalf("noop shutdown: %v", err)
	}
	if _, err := InitTracing(ctx, TracingConfig{Enabled: true, Exporter: "zipkin"}, nil); err == nil {
		t.Fatalf("InitTracing accepted an unsupported exporter")
	}
}

func TestStartAndEndSpan(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	_, span := StartSpan(context.Background(), "test", "Renderer/Create", "service", "service1",
		attribute.Int("wavelength", 7))
	EndSpan(span, errors.New("device unreachable"))
	_, ok := StartSpan(context.Background(), "test", "PCE/Compute", "", "")
	EndSpan(ok, nil)

	ended := rec.Ended()
	if len(ended) != 2 {
		t.Fatalf("ended spans = %d, want 2", len(ended))
	}
	failed := ended[0]
	if failed.Name() != "Renderer/Create" || failed.Status().Code != codes.Error {
		t.Fatalf("span %q status = %+v", failed.Name(), failed.Status())
	}
	attrs := map[attribute.Key]attribute.Value{}
	for _, kv := range failed.Attributes() {
		attrs[kv.Key] = kv.Value
	}
	if attrs["entity_id"].AsString() != "service1" || attrs["wavelength"].AsInt64() != 7 {
		t.Fatalf("attributes = %v", failed.Attributes())
	}
	if ended[1].Status().Code == codes.Error || len(ended[1].Attributes()) != 0 {
		t.Fatalf("clean span = %+v %v", ended[1].Status(), ended[1].Attributes())
	}
}
