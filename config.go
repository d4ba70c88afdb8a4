package authguard

import (
	"fmt"
	"log/slog"

	"github.com/stevenknowswhy/authguard/clock"
	"github.com/stevenknowswhy/authguard/events"
	"github.com/stevenknowswhy/authguard/instrumentation"
	"github.com/stevenknowswhy/authguard/ratelimit"
	"github.com/stevenknowswhy/authguard/storage"
	"github.com/stevenknowswhy/authguard/vault"
)

// Default request-smoothing tunables for the middleware's token bucket.
const (
	DefaultBucketRate  = 10
	DefaultBucketBurst = 20
)

// Config holds the configuration for a Guard.
type Config struct {
	// EncryptionKey is the 32-byte master key for token encryption.
	// Required. Use vault.KeyFromBase64 to decode an environment value.
	EncryptionKey []byte

	// RateLimit configures the adaptive limiter. The zero value fails
	// validation; use ratelimit.DefaultConfig() as a starting point.
	RateLimit ratelimit.Config

	// Correlator configures abuse detection. Zero fields take defaults.
	Correlator events.Config

	// TokenStore persists encrypted token records. Nil selects the
	// in-memory store.
	TokenStore storage.TokenStore

	// BucketRate and BucketBurst configure the per-IP token bucket that
	// smooths request floods in front of the adaptive limiter.
	// BucketRate < 0 disables the bucket; zero values take defaults.
	BucketRate  int
	BucketBurst int

	// TrustProxy enables X-Forwarded-For / X-Real-IP parsing. Only set
	// this behind a proxy that strips client-supplied forwarding headers.
	TrustProxy bool

	// TrustedProxyCount is the number of trailing proxies in
	// X-Forwarded-For that belong to your infrastructure
	TrustedProxyCount int

	// DisableProgressiveDelay turns off the pre-handler delay that slows
	// repeat offenders down. Lockouts and window limits still apply.
	DisableProgressiveDelay bool

	// Logger is the structured logger (default slog.Default())
	Logger *slog.Logger

	// Clock is the time source (default system clock)
	Clock clock.Clock

	// Instrumentation enables metrics and tracing. Nil means disabled
	// (no-op providers), which costs nothing on the hot path.
	Instrumentation *instrumentation.Instrumentation
}

// DefaultConfig returns a Config with production defaults. The encryption
// key is intentionally absent: key material always comes from the caller.
func DefaultConfig() Config {
	return Config{
		RateLimit:   ratelimit.DefaultConfig(),
		BucketRate:  DefaultBucketRate,
		BucketBurst: DefaultBucketBurst,
	}
}

// Validate checks the configuration. Every failure is reported at startup
// rather than on first use.
func (c *Config) Validate() error {
	if len(c.EncryptionKey) != vault.KeySize {
		return ErrConfiguration(
			fmt.Sprintf("encryption key must be %d bytes, got %d", vault.KeySize, len(c.EncryptionKey)),
			nil,
		)
	}
	if err := c.RateLimit.Validate(); err != nil {
		return ErrConfiguration("invalid rate limit configuration", err)
	}
	if c.TrustedProxyCount < 0 {
		return ErrConfiguration("trusted proxy count must not be negative", nil)
	}
	return nil
}
