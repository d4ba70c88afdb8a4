package events

import "time"

// Event type constants for security event logging. These ensure consistency
// across the codebase and prevent typos when classifying events.
const (
	// Authentication events

	// EventAuthLoginSuccess is logged when credentials verify successfully
	EventAuthLoginSuccess = "auth_login_success"

	// EventAuthLoginFailure is logged when credential verification fails
	EventAuthLoginFailure = "auth_login_failure"

	// EventPasswordResetRequested is logged when a password reset is requested
	EventPasswordResetRequested = "password_reset_requested"

	// EventTokenRefreshFailure is logged when a token refresh fails
	EventTokenRefreshFailure = "token_refresh_failure"

	// Rate limiting events

	// EventRateLimitExceeded is logged when a rate limit rejects a request
	EventRateLimitExceeded = "rate_limit_exceeded"

	// EventAccountLocked is logged when an account lockout is created
	EventAccountLocked = "account_locked"

	// EventIPLocked is logged when an IP lockout is created
	EventIPLocked = "ip_locked"

	// EventAccountUnlocked is logged on administrative account unlock
	EventAccountUnlocked = "account_unlocked"

	// EventIPUnlocked is logged on administrative IP unlock
	EventIPUnlocked = "ip_unlocked"

	// Cryptographic events

	// EventEncryptionFailure is logged when token encryption fails
	EventEncryptionFailure = "encryption_failure"

	// EventDecryptionFailure is logged when tag verification fails during
	// decryption (corruption, tampering, or wrong key)
	EventDecryptionFailure = "decryption_failure"

	// Correlation events

	// EventBruteForceDetected is logged when per-IP failure tracking crosses
	// the detection threshold
	EventBruteForceDetected = "brute_force_detected"

	// EventSuspiciousActivity is logged for general suspicious behavior
	EventSuspiciousActivity = "suspicious_activity"

	// Operational events

	// EventValidationFailure is logged when request input fails validation
	EventValidationFailure = "validation_failure"

	// EventConfigurationError is logged for configuration problems
	EventConfigurationError = "configuration_error"
)

// Severity classifies events for triage.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// severityTable is the static type -> severity lookup. Severity is a pure
// function of event type and is never supplied by callers, so no code path
// can record an inconsistent severity for a given type.
var severityTable = map[string]Severity{
	EventAuthLoginSuccess:       SeverityInfo,
	EventAuthLoginFailure:       SeverityMedium,
	EventPasswordResetRequested: SeverityInfo,
	EventTokenRefreshFailure:    SeverityMedium,
	EventRateLimitExceeded:      SeverityMedium,
	EventAccountLocked:          SeverityHigh,
	EventIPLocked:               SeverityHigh,
	EventAccountUnlocked:        SeverityInfo,
	EventIPUnlocked:             SeverityInfo,
	EventEncryptionFailure:      SeverityCritical,
	EventDecryptionFailure:      SeverityCritical,
	EventBruteForceDetected:     SeverityCritical,
	EventSuspiciousActivity:     SeverityHigh,
	EventValidationFailure:      SeverityInfo,
	EventConfigurationError:     SeverityCritical,
}

// userSafeTable marks event types whose messages may be echoed to end users.
// Everything else is internal-only and must be sanitized to an opaque
// message at the response boundary.
var userSafeTable = map[string]bool{
	EventRateLimitExceeded:      true,
	EventAccountLocked:          true,
	EventIPLocked:               true,
	EventPasswordResetRequested: true,
	EventValidationFailure:      true,
}

// SeverityFor returns the severity for an event type. Unknown types map to
// SeverityMedium so they stay visible rather than silently dropping to info.
func SeverityFor(eventType string) Severity {
	if s, ok := severityTable[eventType]; ok {
		return s
	}
	return SeverityMedium
}

// IsUserSafe reports whether an event type's message may be shown to users
func IsUserSafe(eventType string) bool {
	return userSafeTable[eventType]
}

// Event is one classified, sanitized security event. Append-only: the
// correlator never mutates an event after creation.
type Event struct {
	ID             string         `json:"id"`
	Type           string         `json:"type"`
	Severity       Severity       `json:"severity"`
	Message        string         `json:"message"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
	CorrelationKey string         `json:"correlation_key,omitempty"`
}
