package instrumentation

import (
	"fmt"

	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all metric instruments for the defense layer
type Metrics struct {
	// HTTP layer
	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram

	// Rate limiting
	RateLimitChecks    metric.Int64Counter
	RateLimitBlocked   metric.Int64Counter
	AttemptsRecorded   metric.Int64Counter
	LockoutsCreated    metric.Int64Counter
	ManualUnlocks      metric.Int64Counter
	ProgressiveDelayMs metric.Float64Histogram

	// Vault
	EncryptionOperations metric.Int64Counter
	EncryptionDuration   metric.Float64Histogram

	// Correlation
	SecurityEventsTotal metric.Int64Counter
	IPsFlagged          metric.Int64Counter

	// Storage
	StorageOperations        metric.Int64Counter
	StorageOperationDuration metric.Float64Histogram

	// State size gauges (observed via RegisterStateSizeCallbacks)
	TrackedWindows   metric.Int64ObservableGauge
	ActiveLockouts   metric.Int64ObservableGauge
	SuspiciousIPs    metric.Int64ObservableGauge
	StorageTokenRows metric.Int64ObservableGauge
}

// newMetrics creates and registers all metric instruments
func newMetrics(inst *Instrumentation) (*Metrics, error) {
	m := &Metrics{}
	var err error

	httpMeter := inst.Meter("http")
	m.HTTPRequestsTotal, err = httpMeter.Int64Counter(
		"authguard.http.requests.total",
		metric.WithDescription("Total number of HTTP requests through the middleware"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http.requests.total counter: %w", err)
	}

	m.HTTPRequestDuration, err = httpMeter.Float64Histogram(
		"authguard.http.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http.request.duration histogram: %w", err)
	}

	rlMeter := inst.Meter("ratelimit")
	m.RateLimitChecks, err = rlMeter.Int64Counter(
		"authguard.ratelimit.checks.total",
		metric.WithDescription("Rate limit checks performed"),
		metric.WithUnit("{check}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ratelimit.checks counter: %w", err)
	}

	m.RateLimitBlocked, err = rlMeter.Int64Counter(
		"authguard.ratelimit.blocked.total",
		metric.WithDescription("Rate limit checks that rejected the request"),
		metric.WithUnit("{check}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ratelimit.blocked counter: %w", err)
	}

	m.AttemptsRecorded, err = rlMeter.Int64Counter(
		"authguard.ratelimit.attempts.total",
		metric.WithDescription("Attempts recorded, by violation type and outcome"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ratelimit.attempts counter: %w", err)
	}

	m.LockoutsCreated, err = rlMeter.Int64Counter(
		"authguard.ratelimit.lockouts.total",
		metric.WithDescription("Lockouts created, by reason"),
		metric.WithUnit("{lockout}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ratelimit.lockouts counter: %w", err)
	}

	m.ManualUnlocks, err = rlMeter.Int64Counter(
		"authguard.ratelimit.unlocks.total",
		metric.WithDescription("Administrative unlocks, by reason"),
		metric.WithUnit("{unlock}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ratelimit.unlocks counter: %w", err)
	}

	m.ProgressiveDelayMs, err = rlMeter.Float64Histogram(
		"authguard.ratelimit.delay",
		metric.WithDescription("Progressive delay imposed on borderline clients in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ratelimit.delay histogram: %w", err)
	}

	vaultMeter := inst.Meter("vault")
	m.EncryptionOperations, err = vaultMeter.Int64Counter(
		"authguard.vault.operations.total",
		metric.WithDescription("Vault encrypt/decrypt operations, by operation and result"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault.operations counter: %w", err)
	}

	m.EncryptionDuration, err = vaultMeter.Float64Histogram(
		"authguard.vault.operation.duration",
		metric.WithDescription("Vault operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault.operation.duration histogram: %w", err)
	}

	eventsMeter := inst.Meter("events")
	m.SecurityEventsTotal, err = eventsMeter.Int64Counter(
		"authguard.events.total",
		metric.WithDescription("Security events logged, by type and severity"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create events.total counter: %w", err)
	}

	m.IPsFlagged, err = eventsMeter.Int64Counter(
		"authguard.events.ips_flagged.total",
		metric.WithDescription("IPs newly flagged as suspicious"),
		metric.WithUnit("{ip}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create events.ips_flagged counter: %w", err)
	}

	storageMeter := inst.Meter("storage")
	m.StorageOperations, err = storageMeter.Int64Counter(
		"authguard.storage.operations.total",
		metric.WithDescription("Token store operations, by operation and result"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.operations counter: %w", err)
	}

	m.StorageOperationDuration, err = storageMeter.Float64Histogram(
		"authguard.storage.operation.duration",
		metric.WithDescription("Token store operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.operation.duration histogram: %w", err)
	}

	stateMeter := inst.Meter("state")
	m.TrackedWindows, err = stateMeter.Int64ObservableGauge(
		"authguard.state.tracked_windows",
		metric.WithDescription("Currently tracked rate-limit windows"),
		metric.WithUnit("{window}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create state.tracked_windows gauge: %w", err)
	}

	m.ActiveLockouts, err = stateMeter.Int64ObservableGauge(
		"authguard.state.active_lockouts",
		metric.WithDescription("Currently active lockouts"),
		metric.WithUnit("{lockout}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create state.active_lockouts gauge: %w", err)
	}

	m.SuspiciousIPs, err = stateMeter.Int64ObservableGauge(
		"authguard.state.suspicious_ips",
		metric.WithDescription("Currently flagged suspicious IPs"),
		metric.WithUnit("{ip}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create state.suspicious_ips gauge: %w", err)
	}

	m.StorageTokenRows, err = stateMeter.Int64ObservableGauge(
		"authguard.state.token_rows",
		metric.WithDescription("Token rows currently stored"),
		metric.WithUnit("{row}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create state.token_rows gauge: %w", err)
	}

	return m, nil
}
