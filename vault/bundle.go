package vault

import (
	"fmt"
	"time"

	"golang.org/x/oauth2"
)

// Context strings binding each sensitive bundle field to its purpose.
// A payload encrypted under one context cannot be decrypted under another.
const (
	ContextAccessToken  = "oauth-access"
	ContextRefreshToken = "oauth-refresh"
)

// TokenBundle is a plaintext credential set for one user/provider pair.
// AccessToken and RefreshToken are sensitive; the remaining fields are
// metadata that stays introspectable without decryption.
type TokenBundle struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	Scope        string    `json:"scope,omitempty"`
	Expiry       time.Time `json:"expiry,omitempty"`
}

// EncryptedTokenBundle mirrors TokenBundle with the sensitive fields
// transformed into payloads. Metadata fields pass through untouched.
type EncryptedTokenBundle struct {
	AccessToken  *EncryptedPayload `json:"access_token"`
	RefreshToken *EncryptedPayload `json:"refresh_token,omitempty"`
	TokenType    string            `json:"token_type,omitempty"`
	Scope        string            `json:"scope,omitempty"`
	Expiry       time.Time         `json:"expiry,omitempty"`
}

// EncryptTokens encrypts the sensitive fields of a bundle.
// The whole batch fails if any field fails. A bundle without a refresh token
// is valid (not every provider issues one); a bundle without an access token
// is not.
func (v *Vault) EncryptTokens(b *TokenBundle) (*EncryptedTokenBundle, error) {
	if b == nil {
		return nil, fmt.Errorf("%w: nil bundle", ErrMalformedPayload)
	}

	access, err := v.Encrypt(b.AccessToken, ContextAccessToken)
	if err != nil {
		return nil, fmt.Errorf("vault: access token: %w", err)
	}

	out := &EncryptedTokenBundle{
		AccessToken: access,
		TokenType:   b.TokenType,
		Scope:       b.Scope,
		Expiry:      b.Expiry,
	}

	if b.RefreshToken != "" {
		refresh, err := v.Encrypt(b.RefreshToken, ContextRefreshToken)
		if err != nil {
			return nil, fmt.Errorf("vault: refresh token: %w", err)
		}
		out.RefreshToken = refresh
	}

	return out, nil
}

// DecryptTokens reverses EncryptTokens. The whole batch fails if any field
// fails verification.
func (v *Vault) DecryptTokens(b *EncryptedTokenBundle) (*TokenBundle, error) {
	if b == nil {
		return nil, fmt.Errorf("%w: nil bundle", ErrMalformedPayload)
	}

	access, err := v.Decrypt(b.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("vault: access token: %w", err)
	}

	out := &TokenBundle{
		AccessToken: access,
		TokenType:   b.TokenType,
		Scope:       b.Scope,
		Expiry:      b.Expiry,
	}

	if b.RefreshToken != nil {
		refresh, err := v.Decrypt(b.RefreshToken)
		if err != nil {
			return nil, fmt.Errorf("vault: refresh token: %w", err)
		}
		out.RefreshToken = refresh
	}

	return out, nil
}

// BundleFromOAuth2 converts an oauth2.Token into a TokenBundle.
// The granted scope is read from the token's extra fields when present.
func BundleFromOAuth2(t *oauth2.Token) *TokenBundle {
	if t == nil {
		return nil
	}
	b := &TokenBundle{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		TokenType:    t.TokenType,
		Expiry:       t.Expiry,
	}
	if scope, ok := t.Extra("scope").(string); ok {
		b.Scope = scope
	}
	return b
}

// OAuth2Token converts a TokenBundle back into an oauth2.Token.
func (b *TokenBundle) OAuth2Token() *oauth2.Token {
	if b == nil {
		return nil
	}
	return &oauth2.Token{
		AccessToken:  b.AccessToken,
		RefreshToken: b.RefreshToken,
		TokenType:    b.TokenType,
		Expiry:       b.Expiry,
	}
}
