package instrumentation

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

func TestNewDisabledUsesNoopProviders(t *testing.T) {
	inst, err := New(Config{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if inst.Meter("ratelimit") == nil {
		t.Error("Meter() returned nil")
	}
	if inst.Tracer("vault") == nil {
		t.Error("Tracer() returned nil")
	}
	if inst.Metrics() == nil {
		t.Fatal("Metrics() returned nil")
	}
	if inst.Metrics().RateLimitChecks == nil {
		t.Error("metric instruments not created")
	}
	if inst.ShouldLogClientIPs() {
		t.Error("client IP logging should default off")
	}

	// Recording through noop instruments must be safe.
	inst.Metrics().RateLimitChecks.Add(context.Background(), 1)

	if err := inst.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
	if err := inst.Shutdown(context.Background()); err != nil {
		t.Errorf("second Shutdown() error = %v", err)
	}
}

func TestNewWithSDKProvider(t *testing.T) {
	provider := sdkmetric.NewMeterProvider()
	defer provider.Shutdown(context.Background())

	inst, err := New(Config{
		ServiceName:   "authguard-test",
		Enabled:       true,
		MeterProvider: provider,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	inst.Metrics().AttemptsRecorded.Add(context.Background(), 1)
}

func TestRegisterStateSizeCallbacks(t *testing.T) {
	inst, err := New(Config{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	err = inst.RegisterStateSizeCallbacks(
		func() int64 { return 1 },
		func() int64 { return 2 },
		nil,
		nil,
	)
	if err != nil {
		t.Errorf("RegisterStateSizeCallbacks() error = %v", err)
	}
}
