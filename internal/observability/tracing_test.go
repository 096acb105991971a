package observability

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

func TestTracingConfigFromEnv(t *testing.T) {
	t.Setenv("PATROL_TRACING_ENABLED", "true")
	t.Setenv("PATROL_TRACING_EXPORTER", "OTLP")
	t.Setenv("PATROL_TRACING_ENDPOINT", "collector:4317")
	t.Setenv("PATROL_TRACING_SAMPLE_RATIO", "0.25")

	cfg := TracingConfigFromEnv()
	if !cfg.Enabled || cfg.Exporter != "otlp" || cfg.Endpoint != "collector:4317" {
		t.Fatalf("config = %+v", cfg)
	}
	if cfg.SampleRatio != 0.25 {
		t.Fatalf("SampleRatio = %v, want 0.25", cfg.SampleRatio)
	}
	if cfg.ServiceName != defaultServiceName {
		t.Fatalf("ServiceName = %q, want %q", cfg.ServiceName, defaultServiceName)
	}
}

func TestTracingConfigDefaults(t *testing.T) {
	cfg := TracingConfig{SampleRatio: 7}.withDefaults()
	if cfg.Exporter != "stdout" || cfg.SampleRatio != 1 || cfg.Writer == nil {
		t.Fatalf("defaults = %+v", cfg)
	}
}

func TestSamplerZeroRatioKeepsSpans(t *testing.T) {
	tests := []struct {
		name string
		cfg  TracingConfig
		want sdktrace.SamplingDecision
	}{
		{"unset ratio", TracingConfig{}, sdktrace.RecordAndSample},
		{"full ratio", TracingConfig{SampleRatio: 1}, sdktrace.RecordAndSample},
		{"never", TracingConfig{SampleRatio: 1, NeverSample: true}, sdktrace.Drop},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := tt.cfg.withDefaults().sampler().ShouldSample(sdktrace.SamplingParameters{
				ParentContext: context.Background(),
				TraceID:       trace.TraceID{1},
				Name:          "patrol.exchange",
			})
			if res.Decision != tt.want {
				t.Fatalf("Decision = %v, want %v", res.Decision, tt.want)
			}
		})
	}
}

func TestTracingConfigFromEnvZeroRatioNeverSamples(t *testing.T) {
	t.Setenv("PATROL_TRACING_SAMPLE_RATIO", "0")
	if cfg := TracingConfigFromEnv(); !cfg.NeverSample {
		t.Fatalf("config = %+v, want NeverSample", cfg)
	}
}

func TestInitTracingStdoutExportsSpans(t *testing.T) {
	var buf bytes.Buffer
	ctx := context.Background()
	shutdown, err := InitTracing(ctx, TracingConfig{Enabled: true, Exporter: "stdout", Writer: &buf}, nil)
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}

	_, span := otel.Tracer("test").Start(ctx, "patrol.exchange")
	span.End()
	ShutdownWithTimeout(ctx, shutdown, nil)

	if !strings.Contains(buf.String(), "patrol.exchange") {
		t.Fatalf("exported spans missing span name: %s", buf.String())
	}

	if _, err := InitTracing(ctx, TracingConfig{Enabled: true, Exporter: "zipkin"}, nil); err == nil {
		t.Fatalf("expected unknown exporter to fail")
	}
	disabled, err := InitTracing(ctx, TracingConfig{}, nil)
	if err != nil {
		t.Fatalf("InitTracing disabled: %v", err)
	}
	if err := disabled(ctx); err != nil {
		t.Fatalf("noop shutdown: %v", err)
	}
}
