// Package authguard is an authentication defense layer: encrypted token
// storage, adaptive per-IP and per-account rate limiting with lockouts, and
// security event correlation, behind one façade.
package authguard

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/stevenknowswhy/authguard/clock"
	"github.com/stevenknowswhy/authguard/events"
	"github.com/stevenknowswhy/authguard/instrumentation"
	"github.com/stevenknowswhy/authguard/ratelimit"
	"github.com/stevenknowswhy/authguard/storage"
	"github.com/stevenknowswhy/authguard/storage/memory"
	"github.com/stevenknowswhy/authguard/vault"
)

// Guard wires the vault, the adaptive limiter, the event correlator, and
// token storage together. All methods are safe for concurrent use.
type Guard struct {
	cfg        Config
	vault      *vault.Vault
	limiter    *ratelimit.Limiter
	correlator *events.Correlator
	tokens     storage.TokenStore
	bucket     *ratelimit.BucketLimiter

	inst   *instrumentation.Instrumentation
	logger *slog.Logger
	clock  clock.Clock

	// ownsStore is set when we created the default in-memory store and
	// therefore own its cleanup loop
	ownsStore *memory.Store

	closeOnce sync.Once
}

// New builds a Guard from the configuration. Configuration errors,
// including bad key material, are returned here; a misconfigured Guard is
// never handed out.
func New(cfg Config) (*Guard, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.System()
	}

	inst := cfg.Instrumentation
	if inst == nil {
		var err error
		inst, err = instrumentation.New(instrumentation.Config{Enabled: false})
		if err != nil {
			return nil, ErrConfiguration("failed to initialize instrumentation", err)
		}
	}

	v, err := vault.New(cfg.EncryptionKey)
	if err != nil {
		return nil, Classify(err)
	}

	limiter, err := ratelimit.New(cfg.RateLimit, clk, logger)
	if err != nil {
		return nil, ErrConfiguration("failed to initialize rate limiter", err)
	}

	correlator := events.New(cfg.Correlator, clk, logger)

	g := &Guard{
		cfg:        cfg,
		vault:      v,
		limiter:    limiter,
		correlator: correlator,
		inst:       inst,
		logger:     logger,
		clock:      clk,
	}

	if cfg.TokenStore != nil {
		g.tokens = cfg.TokenStore
	} else {
		store := memory.New(memory.Config{
			Logger:          logger,
			Clock:           clk,
			Instrumentation: inst,
		})
		g.tokens = store
		g.ownsStore = store
	}

	if cfg.BucketRate >= 0 {
		rate, burst := cfg.BucketRate, cfg.BucketBurst
		if rate == 0 {
			rate = DefaultBucketRate
		}
		if burst == 0 {
			burst = DefaultBucketBurst
		}
		g.bucket = ratelimit.NewBucketLimiter(rate, burst, cfg.RateLimit.MaxEntries, logger)
	}

	if err := inst.RegisterStateSizeCallbacks(
		func() int64 { return int64(limiter.WindowCount()) },
		func() int64 { return int64(limiter.LockoutCount()) },
		func() int64 { return int64(correlator.SuspiciousCount()) },
		g.tokenRowCallback(),
	); err != nil {
		limiter.Stop()
		return nil, ErrConfiguration("failed to register state gauges", err)
	}

	logger.Info("authguard initialized",
		"bucket_enabled", g.bucket != nil,
		"trust_proxy", cfg.TrustProxy,
		"progressive_delay", !cfg.DisableProgressiveDelay)
	return g, nil
}

func (g *Guard) tokenRowCallback() instrumentation.SizeCallback {
	if g.ownsStore != nil {
		return func() int64 { return int64(g.ownsStore.Len()) }
	}
	return nil
}

// logCorrelated routes an event through the correlator and counts newly
// flagged IPs.
func (g *Guard) logCorrelated(eventType, message string, metadata map[string]any) *events.Event {
	ip, _ := metadata["ip"].(string)
	wasSuspicious := ip != "" && g.correlator.IsSuspiciousIP(ip)

	event := g.correlator.Log(eventType, message, metadata)

	if ip != "" && !wasSuspicious && g.correlator.IsSuspiciousIP(ip) {
		g.inst.Metrics().IPsFlagged.Add(context.Background(), 1)
	}
	return event
}

// CheckRateLimit evaluates whether an operation from ip (and optionally
// userID) may proceed. Read-only: nothing is counted until RecordAttempt.
// A blocked check is itself reported to the correlator so repeated probing
// of a locked subject feeds suspicion tracking.
func (g *Guard) CheckRateLimit(ip, userID string, v ratelimit.Violation) ratelimit.Result {
	res := g.limiter.Check(ip, userID, v)

	m := g.inst.Metrics()
	kvs := []attribute.KeyValue{
		attribute.String(instrumentation.AttrViolationType, string(v)),
		attribute.Bool(instrumentation.AttrAllowed, res.Allowed),
	}
	if g.inst.ShouldLogClientIPs() {
		kvs = append(kvs, attribute.String(instrumentation.AttrClientIP, ip))
	}
	attrs := metric.WithAttributes(kvs...)
	m.RateLimitChecks.Add(context.Background(), 1, attrs)

	if !res.Allowed {
		m.RateLimitBlocked.Add(context.Background(), 1, attrs)
		g.logCorrelated(events.EventRateLimitExceeded, "request blocked by rate limiter",
			map[string]any{
				"ip":             ip,
				"user_id":        userID,
				"violation_type": string(v),
				"lock_reason":    string(res.LockReason),
			})
	}
	return res
}

// RecordAttempt records the outcome of an operation and reports any lockout
// transitions to the correlator. success clears the user's failure window
// for the violation type.
func (g *Guard) RecordAttempt(ip, userID string, v ratelimit.Violation, success bool) *ratelimit.Outcome {
	out := g.limiter.Record(ip, userID, v, success)

	m := g.inst.Metrics()
	m.AttemptsRecorded.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String(instrumentation.AttrViolationType, string(v)),
		attribute.Bool(instrumentation.AttrSuccess, success),
	))

	g.logAttempt(ip, userID, v, success)

	if out.AccountLock != nil {
		m.LockoutsCreated.Add(context.Background(), 1, metric.WithAttributes(
			attribute.String(instrumentation.AttrLockReason, string(ratelimit.LockReasonAccount)),
		))
		g.logCorrelated(events.EventAccountLocked, "account locked after repeated violations",
			map[string]any{
				"ip":              ip,
				"user_id":         userID,
				"violation_count": out.AccountLock.ViolationCount,
				"expires_at":      out.AccountLock.ExpiresAt,
			})
	}
	if out.IPLock != nil {
		m.LockoutsCreated.Add(context.Background(), 1, metric.WithAttributes(
			attribute.String(instrumentation.AttrLockReason, string(ratelimit.LockReasonIP)),
		))
		g.logCorrelated(events.EventIPLocked, "ip locked after repeated violations",
			map[string]any{
				"ip":              ip,
				"violation_count": out.IPLock.ViolationCount,
				"expires_at":      out.IPLock.ExpiresAt,
			})
	}
	return out
}

// logAttempt translates a recorded attempt into the corresponding security
// event. Successful attempts of non-login types are not events.
func (g *Guard) logAttempt(ip, userID string, v ratelimit.Violation, success bool) {
	meta := map[string]any{"ip": ip, "user_id": userID, "violation_type": string(v)}

	switch {
	case v == ratelimit.ViolationPasswordReset:
		g.logCorrelated(events.EventPasswordResetRequested, "password reset requested", meta)
	case v == ratelimit.ViolationTokenRefresh && !success:
		g.logCorrelated(events.EventTokenRefreshFailure, "token refresh failed", meta)
	case !success:
		g.logCorrelated(events.EventAuthLoginFailure, "authentication attempt failed", meta)
	case v == ratelimit.ViolationFailedLogin || v == ratelimit.ViolationAuthAttempt:
		g.logCorrelated(events.EventAuthLoginSuccess, "authentication succeeded", meta)
	}
}

// LogEvent routes an application event through the correlator: severity
// assignment, metadata sanitization, suspicion tracking. Returns the
// sanitized event.
func (g *Guard) LogEvent(eventType, message string, metadata map[string]any) *events.Event {
	event := g.logCorrelated(eventType, message, metadata)
	g.inst.Metrics().SecurityEventsTotal.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String(instrumentation.AttrEventType, eventType),
		attribute.String(instrumentation.AttrEventSeverity, string(event.Severity)),
	))
	return event
}

// IsAccountLocked reports whether the account has an active lockout
func (g *Guard) IsAccountLocked(userID string) bool {
	return g.limiter.IsAccountLocked(userID)
}

// IsIPLocked reports whether the IP has an active lockout
func (g *Guard) IsIPLocked(ip string) bool {
	return g.limiter.IsIPLocked(ip)
}

// IsSuspiciousIP reports whether the correlator currently flags the IP
func (g *Guard) IsSuspiciousIP(ip string) bool {
	return g.correlator.IsSuspiciousIP(ip)
}

// UnlockAccount clears an account lockout before its TTL. The override is
// always audited: adminReason ends up in the event log.
func (g *Guard) UnlockAccount(userID, adminReason string) bool {
	unlocked := g.limiter.UnlockAccount(userID)
	g.inst.Metrics().ManualUnlocks.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String(instrumentation.AttrLockReason, string(ratelimit.LockReasonAccount)),
	))
	g.logCorrelated(events.EventAccountUnlocked, "account manually unlocked",
		map[string]any{"user_id": userID, "reason": adminReason, "was_locked": unlocked})
	return unlocked
}

// UnlockIP clears an IP lockout before its TTL, audited like UnlockAccount.
func (g *Guard) UnlockIP(ip, adminReason string) bool {
	unlocked := g.limiter.UnlockIP(ip)
	g.inst.Metrics().ManualUnlocks.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String(instrumentation.AttrLockReason, string(ratelimit.LockReasonIP)),
	))
	g.logCorrelated(events.EventIPUnlocked, "ip manually unlocked",
		map[string]any{"ip": ip, "reason": adminReason, "was_locked": unlocked})
	return unlocked
}

// SaveTokens encrypts a token bundle and persists it for the user/provider
// pair. Encrypt-then-store: plaintext never reaches the storage layer.
func (g *Guard) SaveTokens(ctx context.Context, userID, provider string, bundle *vault.TokenBundle, scopes []string) error {
	start := g.clock.Now()
	encrypted, err := g.vault.EncryptTokens(bundle)
	g.recordVaultOp("encrypt", start, err)
	if err != nil {
		g.logCorrelated(events.EventEncryptionFailure, "token bundle encryption failed",
			map[string]any{"user_id": userID, "provider": provider})
		return Classify(err)
	}

	rec := &storage.TokenRecord{
		UserID:       userID,
		Provider:     provider,
		AccessToken:  encrypted.AccessToken,
		RefreshToken: encrypted.RefreshToken,
		ExpiresAt:    encrypted.Expiry,
		Scopes:       scopes,
		IsActive:     true,
		UpdatedAt:    g.clock.Now(),
	}
	if err := g.tokens.SaveTokens(ctx, rec); err != nil {
		return Classify(fmt.Errorf("failed to save tokens: %w", err))
	}
	return nil
}

// LoadTokens fetches and decrypts the stored bundle for a user/provider
// pair. A decryption failure is a high-severity event: it means tampering,
// key rotation gone wrong, or data corruption.
func (g *Guard) LoadTokens(ctx context.Context, userID, provider string) (*vault.TokenBundle, error) {
	rec, err := g.tokens.GetTokens(ctx, userID, provider)
	if err != nil {
		return nil, Classify(err)
	}

	start := g.clock.Now()
	bundle, err := g.vault.DecryptTokens(&vault.EncryptedTokenBundle{
		AccessToken:  rec.AccessToken,
		RefreshToken: rec.RefreshToken,
		Expiry:       rec.ExpiresAt,
	})
	g.recordVaultOp("decrypt", start, err)
	if err != nil {
		g.logCorrelated(events.EventDecryptionFailure, "stored token bundle failed to decrypt",
			map[string]any{"user_id": userID, "provider": provider})
		return nil, Classify(err)
	}
	return bundle, nil
}

// DeleteTokens removes the stored bundle for a user/provider pair
func (g *Guard) DeleteTokens(ctx context.Context, userID, provider string) error {
	if err := g.tokens.DeleteTokens(ctx, userID, provider); err != nil {
		return Classify(err)
	}
	return nil
}

// ListProviders returns the providers with stored tokens for the user
func (g *Guard) ListProviders(ctx context.Context, userID string) ([]string, error) {
	providers, err := g.tokens.ListProviders(ctx, userID)
	if err != nil {
		return nil, Classify(err)
	}
	return providers, nil
}

func (g *Guard) recordVaultOp(operation string, start time.Time, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	attrs := metric.WithAttributes(
		attribute.String(instrumentation.AttrVaultOperation, operation),
		attribute.String(instrumentation.AttrVaultResult, result),
	)
	m := g.inst.Metrics()
	m.EncryptionOperations.Add(context.Background(), 1, attrs)
	m.EncryptionDuration.Record(context.Background(),
		float64(g.clock.Now().Sub(start).Microseconds())/1000.0, attrs)
}

// Vault exposes the underlying token vault for direct payload work
func (g *Guard) Vault() *vault.Vault {
	return g.vault
}

// Stats is a combined operational snapshot.
type Stats struct {
	RateLimit ratelimit.Stats
	Events    events.Stats
}

// Stats returns a snapshot across the limiter and the correlator
func (g *Guard) Stats() Stats {
	return Stats{
		RateLimit: g.limiter.Stats(),
		Events:    g.correlator.Stats(),
	}
}

// Close stops background loops and flushes telemetry. Idempotent.
func (g *Guard) Close(ctx context.Context) error {
	var err error
	g.closeOnce.Do(func() {
		g.limiter.Stop()
		if g.bucket != nil {
			g.bucket.Stop()
		}
		if g.ownsStore != nil {
			g.ownsStore.Stop()
		}
		err = g.inst.Shutdown(ctx)
	})
	return err
}
