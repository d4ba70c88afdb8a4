// Package instrumentation provides OpenTelemetry instrumentation for the
// authentication-defense core: counters and histograms for rate limit
// decisions, lockouts, encryption operations, security events, and storage
// access, plus tracers for the storage backends. When disabled it swaps in
// no-op providers with zero overhead.
package instrumentation

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const (
	// DefaultServiceName is used when no service name is configured
	DefaultServiceName = "authguard"

	// DefaultServiceVersion is used when no version is provided
	DefaultServiceVersion = "unknown"
)

// Config holds instrumentation configuration
type Config struct {
	// ServiceName identifies the service in exported telemetry
	ServiceName string

	// ServiceVersion is the version of the service
	ServiceVersion string

	// Enabled controls whether instrumentation is active.
	// When false, no-op providers are used.
	Enabled bool

	// LogClientIPs controls whether client IP addresses are attached to
	// telemetry. Disable for strict privacy jurisdictions; suspicion
	// tracking still works internally, only the exported attributes change.
	LogClientIPs bool

	// Resource allows custom resource attributes. If nil, a default
	// resource with service name and version is created.
	Resource *resource.Resource

	// MeterProvider overrides the default provider (e.g. an SDK provider
	// wired to Prometheus). Ignored when Enabled is false.
	MeterProvider metric.MeterProvider

	// TracerProvider overrides the default tracer provider
	TracerProvider trace.TracerProvider
}

// Instrumentation provides OpenTelemetry components to the other packages.
type Instrumentation struct {
	config   Config
	resource *resource.Resource

	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider

	metrics *Metrics

	shutdownFuncs []func(context.Context) error
	shutdownOnce  sync.Once
}

// New creates a new instrumentation instance
func New(config Config) (*Instrumentation, error) {
	if config.ServiceName == "" {
		config.ServiceName = DefaultServiceName
	}
	if config.ServiceVersion == "" {
		config.ServiceVersion = DefaultServiceVersion
	}

	var res *resource.Resource
	var err error
	if config.Resource != nil {
		res = config.Resource
	} else {
		res, err = resource.New(
			context.Background(),
			resource.WithAttributes(
				semconv.ServiceName(config.ServiceName),
				semconv.ServiceVersion(config.ServiceVersion),
			),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create resource: %w", err)
		}
	}

	inst := &Instrumentation{
		config:   config,
		resource: res,
	}

	if config.Enabled {
		inst.meterProvider = config.MeterProvider
		inst.tracerProvider = config.TracerProvider
	}
	if inst.meterProvider == nil {
		inst.meterProvider = noop.NewMeterProvider()
	}
	if inst.tracerProvider == nil {
		inst.tracerProvider = tracenoop.NewTracerProvider()
	}

	inst.metrics, err = newMetrics(inst)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	return inst, nil
}

// Shutdown gracefully shuts down all instrumentation providers
func (i *Instrumentation) Shutdown(ctx context.Context) error {
	var shutdownErr error
	i.shutdownOnce.Do(func() {
		for _, fn := range i.shutdownFuncs {
			if err := fn(ctx); err != nil && shutdownErr == nil {
				shutdownErr = err
			}
		}
	})
	return shutdownErr
}

// Meter returns a named meter for the given scope ("ratelimit", "vault",
// "events", "storage", "http").
func (i *Instrumentation) Meter(scope string) metric.Meter {
	return i.meterProvider.Meter("github.com/stevenknowswhy/authguard/" + scope)
}

// Tracer returns a named tracer for the given scope
func (i *Instrumentation) Tracer(scope string) trace.Tracer {
	return i.tracerProvider.Tracer("github.com/stevenknowswhy/authguard/" + scope)
}

// Metrics returns the metrics holder for recording metric values
func (i *Instrumentation) Metrics() *Metrics {
	return i.metrics
}

// ShouldLogClientIPs reports whether client IPs may appear in telemetry
func (i *Instrumentation) ShouldLogClientIPs() bool {
	return i.config.LogClientIPs
}

// SizeCallback returns the current size of a tracked collection
type SizeCallback func() int64

// RegisterStateSizeCallbacks registers gauges observing the live size of the
// defense layer's mutable state: tracked rate-limit windows, active
// lockouts, suspicious IPs, and stored token rows. Nil callbacks are
// skipped.
func (i *Instrumentation) RegisterStateSizeCallbacks(
	windows, lockouts, suspiciousIPs, tokenRows SizeCallback,
) error {
	meter := i.Meter("state")

	_, err := meter.RegisterCallback(
		func(ctx context.Context, observer metric.Observer) error {
			if windows != nil {
				observer.ObserveInt64(i.metrics.TrackedWindows, windows())
			}
			if lockouts != nil {
				observer.ObserveInt64(i.metrics.ActiveLockouts, lockouts())
			}
			if suspiciousIPs != nil {
				observer.ObserveInt64(i.metrics.SuspiciousIPs, suspiciousIPs())
			}
			if tokenRows != nil {
				observer.ObserveInt64(i.metrics.StorageTokenRows, tokenRows())
			}
			return nil
		},
		i.metrics.TrackedWindows,
		i.metrics.ActiveLockouts,
		i.metrics.SuspiciousIPs,
		i.metrics.StorageTokenRows,
	)
	return err
}
