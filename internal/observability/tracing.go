package observability

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/signalsfoundry/patrol-simulator/internal/logging"
)

// TracingEnvPrefix prefixes the variables read by TracingConfigFromEnv,
// e.g. PATROL_TRACING_ENABLED or PATROL_TRACING_SAMPLE_RATIO.
const TracingEnvPrefix = "PATROL_TRACING_"

const (
	defaultServiceName  = "patrol-control"
	defaultOTLPEndpoint = "localhost:4317"
	shutdownTimeout     = 5 * time.Second
)

// TracingConfig selects the span exporter and sampling of a process.
type TracingConfig struct {
	Enabled     bool
	ServiceName string
	// Exporter is "stdout" or "otlp".
	Exporter string
	// Endpoint is the OTLP gRPC collector address.
	Endpoint string
	// SampleRatio is the fraction of root spans kept. Zero means unset and
	// keeps every span; use NeverSample to drop them all.
	SampleRatio float64
	NeverSample bool
	// Writer receives stdout spans. It defaults to stderr so that run
	// results printed on stdout stay parseable.
	Writer io.Writer
}

// TracingConfigFromEnv reads the PATROL_TRACING_* variables. Missing or
// malformed values fall back to defaults.
func TracingConfigFromEnv() TracingConfig {
	k := koanf.New(".")
	_ = k.Load(env.Provider(TracingEnvPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, TracingEnvPrefix))
	}), nil)

	cfg := TracingConfig{
		Enabled:     k.Bool("enabled"),
		ServiceName: k.String("service_name"),
		Exporter:    strings.ToLower(k.String("exporter")),
		Endpoint:    k.String("endpoint"),
		SampleRatio: 1,
	}
	if k.Exists("sample_ratio") {
		cfg.SampleRatio = k.Float64("sample_ratio")
		cfg.NeverSample = cfg.SampleRatio <= 0
	}
	return cfg.withDefaults()
}

func (c TracingConfig) withDefaults() TracingConfig {
	if c.ServiceName == "" {
		c.ServiceName = defaultServiceName
	}
	if c.Exporter == "" {
		c.Exporter = "stdout"
	}
	if c.SampleRatio <= 0 || c.SampleRatio > 1 {
		c.SampleRatio = 1
	}
	if c.Writer == nil {
		c.Writer = os.Stderr
	}
	return c
}

func (c TracingConfig) sampler() sdktrace.Sampler {
	switch {
	case c.NeverSample:
		return sdktrace.ParentBased(sdktrace.NeverSample())
	case c.SampleRatio <= 0 || c.SampleRatio >= 1:
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(c.SampleRatio))
	}
}

// InitTracing installs the global tracer provider and W3C propagators.
// The returned function flushes and stops the provider. When tracing is
// disabled a noop provider is installed and the shutdown does nothing.
func InitTracing(ctx context.Context, cfg TracingConfig, log logging.Logger) (func(context.Context) error, error) {
	if log == nil {
		log = logging.Noop()
	}
	cfg = cfg.withDefaults()
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if !cfg.Enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
		log.Debug(ctx, "tracing disabled")
		return func(context.Context) error { return nil }, nil
	}

	exp, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", cfg.ServiceName),
			attribute.String("service.namespace", "patrol"),
		),
		resource.WithHost(),
	)
	if err != nil {
		return nil, fmt.Errorf("tracing resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(cfg.sampler()),
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	log.Info(ctx, "tracing enabled",
		logging.String("exporter", cfg.Exporter),
		logging.String("service_name", cfg.ServiceName),
		logging.Float("sample_ratio", cfg.SampleRatio),
	)
	return tp.Shutdown, nil
}

func newExporter(ctx context.Context, cfg TracingConfig) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case "stdout":
		return stdouttrace.New(stdouttrace.WithWriter(cfg.Writer), stdouttrace.WithoutTimestamps())
	case "otlp", "otlpgrpc":
		endpoint := cfg.Endpoint
		if endpoint == "" {
			endpoint = defaultOTLPEndpoint
		}
		return otlptrace.New(ctx, otlptracegrpc.NewClient(
			otlptracegrpc.WithEndpoint(endpoint),
			otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		))
	default:
		return nil, fmt.Errorf("unsupported tracing exporter %q", cfg.Exporter)
	}
}

// ShutdownWithTimeout flushes spans through shutdown, giving up after five
// seconds. Failures are logged, not returned.
func ShutdownWithTimeout(ctx context.Context, shutdown func(context.Context) error, log logging.Logger) {
	if shutdown == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	if err := shutdown(ctx); err != nil && log != nil {
		log.Warn(ctx, "tracing shutdown failed", logging.Err(err))
	}
}
