package ratelimit

import "time"

// Violation identifies the class of authentication-sensitive operation being
// limited. Each violation type carries independent IP-level and user-level
// thresholds and window sizes, so a flood of password-reset requests cannot
// exhaust the budget for ordinary login attempts.
type Violation string

const (
	// ViolationAuthAttempt covers generic authentication attempts
	ViolationAuthAttempt Violation = "authentication_attempt"

	// ViolationFailedLogin covers failed credential checks
	ViolationFailedLogin Violation = "failed_login"

	// ViolationPasswordReset covers password reset requests
	ViolationPasswordReset Violation = "password_reset"

	// ViolationTokenRefresh covers token refresh operations
	ViolationTokenRefresh Violation = "token_refresh"
)

// Violations lists all known violation types.
var Violations = []Violation{
	ViolationAuthAttempt,
	ViolationFailedLogin,
	ViolationPasswordReset,
	ViolationTokenRefresh,
}

// Valid reports whether v is a known violation type
func (v Violation) Valid() bool {
	switch v {
	case ViolationAuthAttempt, ViolationFailedLogin, ViolationPasswordReset, ViolationTokenRefresh:
		return true
	}
	return false
}

// LockReason identifies which subject class a lockout applies to.
type LockReason string

const (
	// LockReasonAccount is a per-user lockout, independent of source IP,
	// protecting a single account from distributed credential stuffing.
	LockReasonAccount LockReason = "account"

	// LockReasonIP is a per-IP lockout, independent of target account,
	// protecting against a single attacker probing many accounts.
	LockReasonIP LockReason = "ip"
)

// AttemptRecord is one checked operation. Never mutated after creation;
// becomes invisible to window queries once older than the configured window
// for its violation type.
type AttemptRecord struct {
	SubjectKey string
	Violation  Violation
	Timestamp  time.Time
	Success    bool
}

// LockoutState is the locked side of the per-subject state machine:
// Active -> (violation count >= threshold) -> Locked -> (TTL expiry or
// manual unlock) -> Active. ExpiresAt is always after LockedAt.
type LockoutState struct {
	SubjectKey     string
	Reason         LockReason
	LockedAt       time.Time
	ExpiresAt      time.Time
	ViolationCount int
}

// Result is the outcome of a rate limit check.
type Result struct {
	// Allowed is false when the subject is locked or a window is exhausted
	Allowed bool

	// AttemptsRemaining is the budget left in the narrowest applicable window
	AttemptsRemaining int

	// LockReason is set when Allowed is false due to an active lockout
	LockReason LockReason

	// RetryAfter is the time until the lockout expires, zero if not locked
	RetryAfter time.Duration

	// Delay is the progressive delay the caller should impose before
	// proceeding, based on the current violation count
	Delay time.Duration
}

// Outcome reports state transitions caused by a recorded attempt so the
// caller can report them to the event correlator.
type Outcome struct {
	// FailureCount is the user-window failure count after recording,
	// or the IP-window count when no user identity was supplied
	FailureCount int

	// AccountLock is non-nil when this attempt created or extended an
	// account lockout
	AccountLock *LockoutState

	// IPLock is non-nil when this attempt created or extended an IP lockout
	IPLock *LockoutState
}
