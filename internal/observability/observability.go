// Package observability configures tracing and metrics for ingest runs.
// Initialisation is optional; the recording helpers are no-ops until Init
// has run, so library code can call them unconditionally.
package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Config controls observability initialisation.
type Config struct {
	Enabled      bool
	ServiceName  string
	Environment  string
	OTLPEndpoint string
	OTLPInsecure bool
}

// Providers exposes configured telemetry providers.
type Providers struct {
	TracerProvider *sdktrace.TracerProvider
	MeterProvider  *sdkmetric.MeterProvider
	MetricsHandler http.Handler
	Shutdown       func(ctx context.Context) error
}

var (
	initOnce sync.Once

	ingestTracer trace.Tracer

	ingestRunTotal   metric.Int64Counter
	urlsProcessed    metric.Int64Counter
	urlFetchDuration metric.Float64Histogram
)

// Init configures tracing and metrics exporters. When cfg.Enabled is false
// the function is a no-op and returns nil providers.
func Init(ctx context.Context, cfg Config) (*Providers, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	if cfg.ServiceName == "" {
		cfg.ServiceName = "sitelevels"
	}

	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithHost(),
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.DeploymentEnvironment(cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("build otel resource: %w", err)
	}

	var traceOpts []otlptracehttp.Option
	if cfg.OTLPEndpoint != "" {
		traceOpts = append(traceOpts, otlptracehttp.WithEndpoint(cfg.OTLPEndpoint))
	}
	if cfg.OTLPInsecure {
		traceOpts = append(traceOpts, otlptracehttp.WithInsecure())
	}

	traceExporter, err := otlptracehttp.New(ctx, traceOpts...)
	if err != nil {
		return nil, fmt.Errorf("create otlp trace exporter: %w", err)
	}

	tracerProvider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	promExporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("create prometheus exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(promExporter),
	)
	otel.SetMeterProvider(meterProvider)

	if err := initInstruments(meterProvider); err != nil {
		return nil, err
	}

	providers := &Providers{
		TracerProvider: tracerProvider,
		MeterProvider:  meterProvider,
		MetricsHandler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		Shutdown: func(ctx context.Context) error {
			return errors.Join(
				tracerProvider.Shutdown(ctx),
				meterProvider.Shutdown(ctx),
			)
		},
	}

	return providers, nil
}

func initInstruments(provider *sdkmetric.MeterProvider) error {
	var err error
	initOnce.Do(func() {
		ingestTracer = otel.Tracer("sitelevels/pipeline")
		meter := provider.Meter("sitelevels/pipeline")

		ingestRunTotal, err = meter.Int64Counter("ingest_runs_total",
			metric.WithDescription("Completed ingest runs per property"))
		if err != nil {
			return
		}
		urlsProcessed, err = meter.Int64Counter("ingest_urls_processed_total",
			metric.WithDescription("URLs processed, labelled by outcome"))
		if err != nil {
			return
		}
		urlFetchDuration, err = meter.Float64Histogram("ingest_url_fetch_seconds",
			metric.WithDescription("Per-URL metadata fetch duration"))
	})
	return err
}

// StartIngestSpan starts a span for one property ingest. Returns the input
// context unchanged when tracing is not initialised.
func StartIngestSpan(ctx context.Context, property string) (context.Context, trace.Span) {
	if ingestTracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return ingestTracer.Start(ctx, "pipeline.ingest",
		trace.WithAttributes(attribute.String("property", property)))
}

// RecordIngestRun counts one finished ingest run.
func RecordIngestRun(ctx context.Context, property string, stopped bool) {
	if ingestRunTotal == nil {
		return
	}
	ingestRunTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("property", property),
		attribute.Bool("stopped", stopped),
	))
}

// RecordURLProcessed counts one processed URL and its fetch duration.
func RecordURLProcessed(ctx context.Context, ok bool, duration time.Duration) {
	if urlsProcessed == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "skipped"
	}
	urlsProcessed.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	urlFetchDuration.Record(ctx, duration.Seconds())
}
