package telemetry

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName = "github.com/wolfeidau/chunkplan"
)

// Metrics holds all the OpenTelemetry metric instruments
type Metrics struct {
	// Build metrics
	BuildsTotal      metric.Int64Counter
	BuildErrorsTotal metric.Int64Counter
	BuildDuration    metric.Float64Histogram
	PhaseDuration    metric.Float64Histogram

	// Module metrics
	ModulesScanned          metric.Int64Counter
	ModulesTransformedTotal metric.Int64Counter
	TransformErrorsTotal    metric.Int64Counter
	TransformDuration       metric.Float64Histogram

	// Output metrics
	ChunksEmittedTotal    metric.Int64Counter
	CycleDiagnosticsTotal metric.Int64Counter
	BytesWrittenTotal     metric.Int64Counter
}

var (
	once    sync.Once
	metrics *Metrics
)

// GetMetrics returns the singleton Metrics instance, initializing it if necessary
func GetMetrics() *Metrics {
	once.Do(func() {
		metrics = initMetrics()
	})
	return metrics
}

// initMetrics creates and registers all metric instruments
func initMetrics() *Metrics {
	meter := otel.GetMeterProvider().Meter(meterName)

	m := &Metrics{}

	m.BuildsTotal, _ = meter.Int64Counter(
		"chunkplan.builds.total",
		metric.WithDescription("Total number of successful builds"),
		metric.WithUnit("{build}"),
	)

	m.BuildErrorsTotal, _ = meter.Int64Counter(
		"chunkplan.builds.errors.total",
		metric.WithDescription("Total number of failed builds"),
		metric.WithUnit("{error}"),
	)

	m.BuildDuration, _ = meter.Float64Histogram(
		"chunkplan.builds.duration",
		metric.WithDescription("Duration of complete builds"),
		metric.WithUnit("ms"),
	)

	m.PhaseDuration, _ = meter.Float64Histogram(
		"chunkplan.builds.phase.duration",
		metric.WithDescription("Duration of each build phase (scan, resolve, transform, plan, emit, write)"),
		metric.WithUnit("ms"),
	)

	m.ModulesScanned, _ = meter.Int64Counter(
		"chunkplan.modules.scanned.total",
		metric.WithDescription("Total number of modules found in the module graph"),
		metric.WithUnit("{module}"),
	)

	m.ModulesTransformedTotal, _ = meter.Int64Counter(
		"chunkplan.modules.transformed.total",
		metric.WithDescription("Total number of modules run through their pipeline"),
		metric.WithUnit("{module}"),
	)

	m.TransformErrorsTotal, _ = meter.Int64Counter(
		"chunkplan.modules.transform_errors.total",
		metric.WithDescription("Total number of failed module pipelines"),
		metric.WithUnit("{error}"),
	)

	m.TransformDuration, _ = meter.Float64Histogram(
		"chunkplan.modules.transform.duration",
		metric.WithDescription("Duration of a single module pipeline"),
		metric.WithUnit("ms"),
	)

	m.ChunksEmittedTotal, _ = meter.Int64Counter(
		"chunkplan.chunks.emitted.total",
		metric.WithDescription("Total number of chunks rendered"),
		metric.WithUnit("{chunk}"),
	)

	m.CycleDiagnosticsTotal, _ = meter.Int64Counter(
		"chunkplan.chunks.cycle_diagnostics.total",
		metric.WithDescription("Total number of hard dependency cycles merged by the planner"),
		metric.WithUnit("{cycle}"),
	)

	m.BytesWrittenTotal, _ = meter.Int64Counter(
		"chunkplan.output.bytes_written.total",
		metric.WithDescription("Total number of uncompressed bytes written to the output directory"),
		metric.WithUnit("By"),
	)

	return m
}
