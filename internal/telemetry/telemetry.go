package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

const serviceName = "chunkplan"

// Project identifies the build that exported telemetry belongs to.
type Project struct {
	Version string
	// Command is the CLI command running, build or serve.
	Command string
	// Config is the path of the project file.
	Config  string
	Context string
	Mode    string
	Entries int
	// Serve marks a long running dev server. Other commands export once, at shutdown.
	Serve bool
}

// Resource describes the chunkplan process and its project. Attributes from
// OTEL_RESOURCE_ATTRIBUTES are merged in.
func Resource(ctx context.Context, p Project) (*resource.Resource, error) {
	return resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(p.Version),
			attribute.String("chunkplan.command", p.Command),
			attribute.String("chunkplan.config", p.Config),
			attribute.String("chunkplan.context", p.Context),
			attribute.String("chunkplan.mode", p.Mode),
			attribute.Int("chunkplan.entries", p.Entries),
		),
		resource.WithFromEnv(),
		resource.WithHost(),
		resource.WithOSType(),
	)
}

type exportSettings struct {
	batchTimeout   time.Duration
	metricInterval time.Duration
}

// settingsFor keeps the dev server exporting as rebuilds happen. A one-shot
// build rarely outlives a periodic interval, so it relies on the flush at shutdown.
func settingsFor(p Project) exportSettings {
	if p.Serve {
		return exportSettings{batchTimeout: 5 * time.Second, metricInterval: 10 * time.Second}
	}
	return exportSettings{batchTimeout: time.Minute, metricInterval: time.Hour}
}

// Start installs OTLP trace and meter providers for the project. Exporters read
// OTEL_EXPORTER_OTLP_ENDPOINT and OTEL_EXPORTER_OTLP_HEADERS. The returned function
// flushes pending spans and metrics and must run before the process exits.
func Start(ctx context.Context, p Project) (func(context.Context) error, error) {
	res, err := Resource(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	settings := settingsFor(p)

	traceShutdown, err := startTracing(ctx, res, settings)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize trace provider, continuing without tracing")
		traceShutdown = func(ctx context.Context) error { return nil }
	}

	metricShutdown, err := startMetrics(ctx, res, settings)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize meter provider, continuing without metrics")
		metricShutdown = func(ctx context.Context) error { return nil }
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	log.Info().
		Str("command", p.Command).
		Str("config", p.Config).
		Str("version", p.Version).
		Dur("metric_interval", settings.metricInterval).
		Msg("OpenTelemetry initialized")

	return func(ctx context.Context) error {
		var errs []error
		if err := traceShutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("trace shutdown: %w", err))
		}
		if err := metricShutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metric shutdown: %w", err))
		}
		return errors.Join(errs...)
	}, nil
}

func startTracing(ctx context.Context, res *resource.Resource, settings exportSettings) (func(context.Context) error, error) {
	exporter, err := otlptracegrpc.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(settings.batchTimeout)),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}

func startMetrics(ctx context.Context, res *resource.Resource, settings exportSettings) (func(context.Context) error, error) {
	exporter, err := otlpmetricgrpc.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create metric exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(settings.metricInterval))),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	return mp.Shutdown, nil
}
