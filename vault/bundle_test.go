package vault

import (
	"errors"
	"testing"
	"time"

	"golang.org/x/oauth2"
)

func TestEncryptTokensRoundTrip(t *testing.T) {
	v := newTestVault(t)
	expiry := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

	bundle := &TokenBundle{
		AccessToken:  "access-abc",
		RefreshToken: "refresh-xyz",
		TokenType:    "Bearer",
		Scope:        "openid profile",
		Expiry:       expiry,
	}

	enc, err := v.EncryptTokens(bundle)
	if err != nil {
		t.Fatalf("EncryptTokens() error = %v", err)
	}

	if enc.AccessToken == nil || enc.RefreshToken == nil {
		t.Fatal("encrypted bundle missing payloads")
	}
	if enc.AccessToken.Context != ContextAccessToken {
		t.Errorf("access context = %q, want %q", enc.AccessToken.Context, ContextAccessToken)
	}
	if enc.RefreshToken.Context != ContextRefreshToken {
		t.Errorf("refresh context = %q, want %q", enc.RefreshToken.Context, ContextRefreshToken)
	}
	if enc.TokenType != "Bearer" || enc.Scope != "openid profile" || !enc.Expiry.Equal(expiry) {
		t.Error("metadata fields did not pass through")
	}

	dec, err := v.DecryptTokens(enc)
	if err != nil {
		t.Fatalf("DecryptTokens() error = %v", err)
	}
	if *dec != *bundle {
		t.Errorf("DecryptTokens() = %+v, want %+v", dec, bundle)
	}
}

func TestEncryptTokensWithoutRefresh(t *testing.T) {
	v := newTestVault(t)

	enc, err := v.EncryptTokens(&TokenBundle{AccessToken: "access-only"})
	if err != nil {
		t.Fatalf("EncryptTokens() error = %v", err)
	}
	if enc.RefreshToken != nil {
		t.Error("RefreshToken should be nil for a bundle without one")
	}

	dec, err := v.DecryptTokens(enc)
	if err != nil {
		t.Fatalf("DecryptTokens() error = %v", err)
	}
	if dec.AccessToken != "access-only" || dec.RefreshToken != "" {
		t.Errorf("DecryptTokens() = %+v", dec)
	}
}

func TestEncryptTokensRequiresAccessToken(t *testing.T) {
	v := newTestVault(t)

	_, err := v.EncryptTokens(&TokenBundle{RefreshToken: "refresh-only"})
	if !errors.Is(err, ErrEmptyPlaintext) {
		t.Errorf("EncryptTokens() error = %v, want ErrEmptyPlaintext", err)
	}
}

func TestEncryptTokensNilBundle(t *testing.T) {
	v := newTestVault(t)

	if _, err := v.EncryptTokens(nil); !errors.Is(err, ErrMalformedPayload) {
		t.Errorf("EncryptTokens(nil) error = %v, want ErrMalformedPayload", err)
	}
	if _, err := v.DecryptTokens(nil); !errors.Is(err, ErrMalformedPayload) {
		t.Errorf("DecryptTokens(nil) error = %v, want ErrMalformedPayload", err)
	}
}

func TestDecryptTokensBatchFailure(t *testing.T) {
	v := newTestVault(t)

	enc, err := v.EncryptTokens(&TokenBundle{
		AccessToken:  "access",
		RefreshToken: "refresh",
	})
	if err != nil {
		t.Fatalf("EncryptTokens() error = %v", err)
	}

	// One corrupted field fails the whole batch; the intact access token
	// is not returned partially.
	enc.RefreshToken.AuthTag[0] ^= 0x01

	if _, err := v.DecryptTokens(enc); !errors.Is(err, ErrDecryptFailed) {
		t.Errorf("DecryptTokens() error = %v, want ErrDecryptFailed", err)
	}
}

func TestBundleFromOAuth2(t *testing.T) {
	expiry := time.Now().Add(time.Hour)
	tok := (&oauth2.Token{
		AccessToken:  "a",
		RefreshToken: "r",
		TokenType:    "Bearer",
		Expiry:       expiry,
	}).WithExtra(map[string]any{"scope": "read write"})

	b := BundleFromOAuth2(tok)
	if b.AccessToken != "a" || b.RefreshToken != "r" || b.TokenType != "Bearer" {
		t.Errorf("BundleFromOAuth2() = %+v", b)
	}
	if b.Scope != "read write" {
		t.Errorf("Scope = %q, want %q", b.Scope, "read write")
	}
	if !b.Expiry.Equal(expiry) {
		t.Error("expiry not preserved")
	}

	back := b.OAuth2Token()
	if back.AccessToken != "a" || back.RefreshToken != "r" || back.TokenType != "Bearer" {
		t.Errorf("OAuth2Token() = %+v", back)
	}

	if BundleFromOAuth2(nil) != nil {
		t.Error("BundleFromOAuth2(nil) should be nil")
	}
	if (*TokenBundle)(nil).OAuth2Token() != nil {
		t.Error("nil bundle OAuth2Token() should be nil")
	}
}
