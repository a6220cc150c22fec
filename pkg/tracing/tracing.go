package tracing

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"ytindexer/internal/config"
	"ytindexer/internal/constants"
)

const (
	exporterTimeout = 5 * time.Second
	namespace       = "ytindexer"
)

type TracerProvider struct {
	tp *sdktrace.TracerProvider
}

// Shutdown flushes pending spans. Safe on a nil provider.
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp == nil || tp.tp == nil {
		return nil
	}
	if err := tp.tp.ForceFlush(ctx); err != nil {
		return err
	}
	return tp.tp.Shutdown(ctx)
}

// Init sets the global propagator and, when cfg.Enabled, a provider exporting
// over OTLP/gRPC. Trace context keeps crossing the queues with tracing off.
func Init(cfg config.TracingConfig, serviceName string) (*TracerProvider, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if !cfg.Enabled {
		return &TracerProvider{tp: sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.NeverSample()))}, nil
	}
	if serviceName == "" {
		serviceName = cfg.ServiceName
	}

	res, err := resource.New(context.Background(),
		resource.WithTelemetrySDK(),
		resource.WithHost(),
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(constants.APIVersion),
			semconv.ServiceNamespace(namespace),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("tracing resource: %w", err)
	}

	exporter, err := newExporter(cfg.OTLP)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(Sampler(cfg.Sampler)),
	)
	otel.SetTracerProvider(tp)
	return &TracerProvider{tp: tp}, nil
}

func newExporter(cfg config.OTLPConfig) (sdktrace.SpanExporter, error) {
	ctx, cancel := context.WithTimeout(context.Background(), exporterTimeout)
	defer cancel()

	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
		otlptracegrpc.WithTimeout(exporterTimeout),
	}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("otlp exporter for %s: %w", cfg.Endpoint, err)
	}
	return exporter, nil
}

// Sampler maps the configured sampler type. Unknown types sample everything;
// ratios are clamped to [0, 1].
func Sampler(cfg config.SamplerConfig) sdktrace.Sampler {
	ratio := min(max(cfg.Param, 0), 1)

	samplers := map[string]func() sdktrace.Sampler{
		"always_off":   sdktrace.NeverSample,
		"traceidratio": func() sdktrace.Sampler { return sdktrace.TraceIDRatioBased(ratio) },
		"parentbased_always_on": func() sdktrace.Sampler {
			return sdktrace.ParentBased(sdktrace.AlwaysSample())
		},
		"parentbased_traceidratio": func() sdktrace.Sampler {
			return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
		},
	}
	if build, ok := samplers[cfg.Type]; ok {
		return build()
	}
	return sdktrace.AlwaysSample()
}

func GetTracer(name string) trace.Tracer {
	return otel.Tracer(name)
}
