package authguard

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/stevenknowswhy/authguard/events"
	"github.com/stevenknowswhy/authguard/storage"
	"github.com/stevenknowswhy/authguard/vault"
)

// Error codes for the defense layer taxonomy.
const (
	CodeValidation     = "validation_error"
	CodeAuthentication = "authentication_error"
	CodeLockout        = "lockout_error"
	CodeRateLimited    = "rate_limit_exceeded"
	CodeEncryption     = "encryption_error"
	CodeDecryption     = "decryption_error"
	CodeConfiguration  = "configuration_error"
	CodeNotFound       = "not_found"
	CodeInternal       = "internal_error"
)

// Error is a classified error carrying the HTTP status for the response
// boundary. Internal detail stays in the wrapped error for logging; the
// client only ever sees SafeMessage.
type Error struct {
	Code       string
	Message    string
	Status     int
	RetryAfter time.Duration // set for lockout and rate-limit errors
	err        error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped internal error
func (e *Error) Unwrap() error {
	return e.err
}

// codeEvents ties each error code to the event class its response
// discloses, so SafeMessage can consult the user-safe event table before
// echoing a message.
var codeEvents = map[string]string{
	CodeValidation:     events.EventValidationFailure,
	CodeAuthentication: events.EventAuthLoginFailure,
	CodeLockout:        events.EventAccountLocked,
	CodeRateLimited:    events.EventRateLimitExceeded,
	CodeEncryption:     events.EventEncryptionFailure,
	CodeDecryption:     events.EventDecryptionFailure,
	CodeConfiguration:  events.EventConfigurationError,
}

// SafeMessage returns the message suitable for a client response: opaque
// for server-side failures, the bare status text for codes whose event
// class is not user-safe, and sanitized otherwise. Secret values, stack
// traces, and internal paths never reach a response body.
func (e *Error) SafeMessage() string {
	if e.Status >= http.StatusInternalServerError {
		return "Internal server error"
	}
	if ev, ok := codeEvents[e.Code]; ok && !events.IsUserSafe(ev) {
		return http.StatusText(e.Status)
	}
	return events.SanitizeString(e.Message)
}

// NewError creates a classified error wrapping an internal cause
func NewError(code, message string, status int, err error) *Error {
	return &Error{Code: code, Message: message, Status: status, err: err}
}

// ErrValidation builds a 400 validation error
func ErrValidation(message string) *Error {
	return NewError(CodeValidation, message, http.StatusBadRequest, nil)
}

// ErrAuthentication builds a 401 with a deliberately generic message:
// which check failed is never echoed back.
func ErrAuthentication() *Error {
	return NewError(CodeAuthentication, "Invalid credentials", http.StatusUnauthorized, nil)
}

// ErrLockout builds a 429 lockout rejection carrying retryAfter.
// Exact violation counts are not disclosed.
func ErrLockout(reason string, retryAfter time.Duration) *Error {
	e := NewError(CodeLockout, "Temporarily locked: "+reason, http.StatusTooManyRequests, nil)
	e.RetryAfter = retryAfter
	return e
}

// ErrRateLimited builds a 429 rate-limit rejection. Recoverable by waiting.
func ErrRateLimited(retryAfter time.Duration) *Error {
	e := NewError(CodeRateLimited, "Too many requests", http.StatusTooManyRequests, nil)
	e.RetryAfter = retryAfter
	return e
}

// ErrConfiguration builds a configuration error. These are surfaced at
// startup; a process with bad key material refuses to start.
func ErrConfiguration(message string, err error) *Error {
	return NewError(CodeConfiguration, message, http.StatusInternalServerError, err)
}

// Classify maps component sentinel errors onto the taxonomy. The mapping is
// a static function of the error chain, so no code path can assign an
// inconsistent class. Cryptographic and configuration failures are never
// retried by callers; rate-limit rejections are expected, wait-and-retry
// conditions.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}

	var classified *Error
	if errors.As(err, &classified) {
		return classified
	}

	switch {
	case errors.Is(err, vault.ErrEmptyPlaintext):
		return NewError(CodeValidation, "plaintext must not be empty", http.StatusBadRequest, err)
	case errors.Is(err, vault.ErrMalformedPayload):
		return NewError(CodeValidation, "malformed encrypted payload", http.StatusBadRequest, err)
	case errors.Is(err, vault.ErrInvalidKey):
		return NewError(CodeConfiguration, "invalid encryption key material", http.StatusInternalServerError, err)
	case errors.Is(err, vault.ErrDecryptFailed):
		return NewError(CodeDecryption, "decryption failed", http.StatusInternalServerError, err)
	case errors.Is(err, storage.ErrTokenNotFound):
		return NewError(CodeNotFound, "no stored tokens", http.StatusNotFound, err)
	default:
		return NewError(CodeInternal, "internal error", http.StatusInternalServerError, err)
	}
}
