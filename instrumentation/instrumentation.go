// Package instrumentation provides OpenTelemetry metrics and tracing
// for the authorization server. When disabled it wires no-op providers
// so instrumented code paths carry zero overhead.
package instrumentation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// Config holds instrumentation configuration.
type Config struct {
	// ServiceName identifies the service in telemetry backends.
	ServiceName string

	// ServiceVersion is the running version of the service.
	ServiceVersion string

	// Enabled controls whether instrumentation is active. When false,
	// no-op providers are used.
	Enabled bool

	// MeterProvider supplies meters when Enabled. Nil falls back to
	// no-op.
	MeterProvider metric.MeterProvider

	// TracerProvider supplies tracers when Enabled. Nil falls back to
	// no-op.
	TracerProvider trace.TracerProvider
}

// Instrumentation bundles the telemetry providers and pre-built
// metric instruments.
type Instrumentation struct {
	config   Config
	resource *resource.Resource

	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider

	metrics *Metrics
}

// New creates an instrumentation instance. With Enabled=false (or nil
// providers) everything is a no-op.
func New(config Config) (*Instrumentation, error) {
	if config.ServiceName == "" {
		config.ServiceName = "vtauth"
	}
	if config.ServiceVersion == "" {
		config.ServiceVersion = "unknown"
	}

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("creating telemetry resource: %w", err)
	}

	inst := &Instrumentation{
		config:         config,
		resource:       res,
		meterProvider:  metricnoop.NewMeterProvider(),
		tracerProvider: tracenoop.NewTracerProvider(),
	}
	if config.Enabled {
		if config.MeterProvider != nil {
			inst.meterProvider = config.MeterProvider
		}
		if config.TracerProvider != nil {
			inst.tracerProvider = config.TracerProvider
		}
	}

	meter := inst.meterProvider.Meter("github.com/vtranscribe/vtauth")
	inst.metrics, err = newMetrics(meter)
	if err != nil {
		return nil, fmt.Errorf("creating metric instruments: %w", err)
	}

	return inst, nil
}

// Metrics returns the pre-built metric instruments.
func (i *Instrumentation) Metrics() *Metrics {
	return i.metrics
}

// Tracer returns a tracer for the given component name.
func (i *Instrumentation) Tracer(name string) trace.Tracer {
	return i.tracerProvider.Tracer(name)
}

// Resource returns the telemetry resource describing this service.
func (i *Instrumentation) Resource() *resource.Resource {
	return i.resource
}
