package instrumentation

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Common span and metric attribute keys.
//
// Never attach actual secret values (tokens, key material, plaintext) to
// telemetry. Only metadata: operation names, violation types, results.
const (
	// Rate limiting attributes
	AttrViolationType = "ratelimit.violation_type"
	AttrLockReason    = "ratelimit.lock_reason"
	AttrAllowed       = "ratelimit.allowed"
	AttrSuccess       = "ratelimit.success"

	// Vault attributes
	AttrVaultOperation = "vault.operation"
	AttrVaultResult    = "vault.result"

	// Event attributes
	AttrEventType     = "event.type"
	AttrEventSeverity = "event.severity"

	// Storage attributes
	AttrStorageOperation = "storage.operation"
	AttrStorageBackend   = "storage.backend"
	AttrStorageResult    = "storage.result"
	AttrProvider         = "token.provider"

	// HTTP attributes
	AttrHTTPEndpoint   = "http.endpoint"
	AttrHTTPMethod     = "http.method"
	AttrHTTPStatusCode = "http.status_code"
	AttrClientIP       = "client.ip"
)

// RecordError records an error on a span with proper status codes (nil-safe)
func RecordError(span trace.Span, err error) {
	if span != nil && err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSpanAttributes sets attributes on a span (nil-safe)
func SetSpanAttributes(span trace.Span, attrs ...attribute.KeyValue) {
	if span != nil {
		span.SetAttributes(attrs...)
	}
}
