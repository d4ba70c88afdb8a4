// Package storage defines the interface for persisting encrypted token rows.
// The vault never performs I/O itself; callers encrypt through the vault and
// hand the payloads to a TokenStore implementation. Backends include
// in-memory (single instance) and Valkey (shared across instances).
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/stevenknowswhy/authguard/vault"
)

// ErrTokenNotFound is returned when no record exists for a user/provider pair
var ErrTokenNotFound = errors.New("storage: token not found")

// TokenRecord is one persisted row per (user, provider). The token fields
// are stored as serialized encrypted payloads; the remaining metadata stays
// plaintext so the row is introspectable without decryption.
type TokenRecord struct {
	UserID   string `json:"user_id"`
	Provider string `json:"provider"`

	AccessToken  *vault.EncryptedPayload `json:"encrypted_access_token"`
	RefreshToken *vault.EncryptedPayload `json:"encrypted_refresh_token,omitempty"`

	ExpiresAt time.Time `json:"token_expires_at,omitempty"`
	Scopes    []string  `json:"scopes,omitempty"`
	IsActive  bool      `json:"is_active"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TokenStore persists encrypted token records. All methods accept a
// context for tracing and cancellation. Writes are fallible and must be
// surfaced by the caller, never silently swallowed.
type TokenStore interface {
	// SaveTokens stores or replaces the record for (UserID, Provider)
	SaveTokens(ctx context.Context, rec *TokenRecord) error

	// GetTokens retrieves the record for a user/provider pair.
	// Returns ErrTokenNotFound when absent.
	GetTokens(ctx context.Context, userID, provider string) (*TokenRecord, error)

	// DeleteTokens removes the record for a user/provider pair
	DeleteTokens(ctx context.Context, userID, provider string) error

	// ListProviders lists the providers with stored tokens for a user
	ListProviders(ctx context.Context, userID string) ([]string, error)
}

// Validate checks a record before it is handed to a backend.
func (r *TokenRecord) Validate() error {
	if r == nil {
		return errors.New("storage: nil record")
	}
	if r.UserID == "" {
		return errors.New("storage: user ID cannot be empty")
	}
	if r.Provider == "" {
		return errors.New("storage: provider cannot be empty")
	}
	if r.AccessToken == nil {
		return errors.New("storage: record must carry an encrypted access token")
	}
	return nil
}
