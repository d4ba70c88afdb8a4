package authguard

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/stevenknowswhy/authguard/clock"
	"github.com/stevenknowswhy/authguard/instrumentation"
	"github.com/stevenknowswhy/authguard/ratelimit"
	"github.com/stevenknowswhy/authguard/vault"
)

var testStart = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestGuard(t *testing.T, mutate func(c *Config)) (*Guard, *clock.Fake) {
	t.Helper()
	fake := clock.NewFake(testStart)
	cfg := validConfig(t)
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg.Clock = fake
	cfg.BucketRate = -1 // smoothing off unless a test opts in
	if mutate != nil {
		mutate(&cfg)
	}

	g, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { g.Close(context.Background()) })
	return g, fake
}

func TestNewRejectsBadConfig(t *testing.T) {
	_, err := New(Config{})
	if err == nil {
		t.Fatal("New() with zero config should fail")
	}
	var classified *Error
	if !errors.As(err, &classified) || classified.Code != CodeConfiguration {
		t.Errorf("New() error = %v, want configuration error", err)
	}
}

func TestCheckAndRecordFlow(t *testing.T) {
	g, _ := newTestGuard(t, nil)
	ip, user := "203.0.113.10", "alice"

	res := g.CheckRateLimit(ip, user, ratelimit.ViolationFailedLogin)
	if !res.Allowed {
		t.Fatal("fresh subject should be allowed")
	}

	var out *ratelimit.Outcome
	for i := 0; i < 5; i++ {
		out = g.RecordAttempt(ip, user, ratelimit.ViolationFailedLogin, false)
	}
	if out.AccountLock == nil {
		t.Fatal("5th failure should lock the account")
	}
	if !g.IsAccountLocked(user) {
		t.Error("IsAccountLocked() = false")
	}

	res = g.CheckRateLimit(ip, user, ratelimit.ViolationFailedLogin)
	if res.Allowed {
		t.Error("locked account should be rejected")
	}
	if res.RetryAfter <= 0 {
		t.Errorf("RetryAfter = %v, want > 0", res.RetryAfter)
	}
}

func TestFailuresFeedSuspicionTracking(t *testing.T) {
	g, _ := newTestGuard(t, nil)
	ip := "10.0.0.1"

	// Six login failures from one IP, spread over accounts to stay under
	// each per-account threshold, still flag the IP.
	users := []string{"u1", "u2", "u3", "u4", "u5", "u6"}
	for _, u := range users {
		g.RecordAttempt(ip, u, ratelimit.ViolationFailedLogin, false)
	}

	if !g.IsSuspiciousIP(ip) {
		t.Error("IP should be flagged after 6 failures")
	}
	if g.IsSuspiciousIP("10.0.0.2") {
		t.Error("unrelated IP flagged")
	}
}

func TestManualUnlockIsAudited(t *testing.T) {
	g, _ := newTestGuard(t, nil)
	ip, user := "203.0.113.10", "alice"

	for i := 0; i < 5; i++ {
		g.RecordAttempt(ip, user, ratelimit.ViolationFailedLogin, false)
	}
	if !g.UnlockAccount(user, "verified identity via support ticket") {
		t.Error("UnlockAccount() = false, want true")
	}
	if g.IsAccountLocked(user) {
		t.Error("account still locked")
	}

	s := g.Stats()
	if s.Events.TotalEvents == 0 {
		t.Error("unlock left no audit trail")
	}
}

func TestTokenRoundTrip(t *testing.T) {
	g, _ := newTestGuard(t, nil)
	ctx := context.Background()

	bundle := &vault.TokenBundle{
		AccessToken:  "access-abc",
		RefreshToken: "refresh-xyz",
		Expiry:       testStart.Add(time.Hour),
	}
	if err := g.SaveTokens(ctx, "alice", "github", bundle, []string{"repo"}); err != nil {
		t.Fatalf("SaveTokens() error = %v", err)
	}

	got, err := g.LoadTokens(ctx, "alice", "github")
	if err != nil {
		t.Fatalf("LoadTokens() error = %v", err)
	}
	if got.AccessToken != "access-abc" || got.RefreshToken != "refresh-xyz" {
		t.Errorf("LoadTokens() = %+v", got)
	}

	providers, err := g.ListProviders(ctx, "alice")
	if err != nil || len(providers) != 1 || providers[0] != "github" {
		t.Errorf("ListProviders() = %v, %v", providers, err)
	}

	if err := g.DeleteTokens(ctx, "alice", "github"); err != nil {
		t.Fatalf("DeleteTokens() error = %v", err)
	}
	if _, err := g.LoadTokens(ctx, "alice", "github"); err == nil {
		t.Fatal("LoadTokens() after delete should fail")
	}
}

func TestLoadTokensNotFound(t *testing.T) {
	g, _ := newTestGuard(t, nil)

	_, err := g.LoadTokens(context.Background(), "nobody", "github")
	var classified *Error
	if !errors.As(err, &classified) || classified.Code != CodeNotFound {
		t.Errorf("LoadTokens() error = %v, want not_found", err)
	}
}

func TestSaveTokensRejectsEmptyBundle(t *testing.T) {
	g, _ := newTestGuard(t, nil)

	err := g.SaveTokens(context.Background(), "alice", "github", &vault.TokenBundle{}, nil)
	var classified *Error
	if !errors.As(err, &classified) || classified.Code != CodeValidation {
		t.Errorf("SaveTokens() error = %v, want validation error", err)
	}
}

func TestStatsCombined(t *testing.T) {
	g, _ := newTestGuard(t, nil)

	g.RecordAttempt("203.0.113.10", "alice", ratelimit.ViolationFailedLogin, false)
	g.CheckRateLimit("203.0.113.10", "alice", ratelimit.ViolationFailedLogin)

	s := g.Stats()
	if s.RateLimit.ViolationsLast15m != 1 {
		t.Errorf("ViolationsLast15m = %d, want 1", s.RateLimit.ViolationsLast15m)
	}
	if s.Events.TotalEvents == 0 {
		t.Error("expected correlated events")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	g, _ := newTestGuard(t, nil)
	ctx := context.Background()
	if err := g.Close(ctx); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := g.Close(ctx); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func checkMetricAttrs(t *testing.T, reader *sdkmetric.ManualReader) []attribute.Set {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	var sets []attribute.Set
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "authguard.ratelimit.checks.total" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("checks metric data type = %T", m.Data)
			}
			for _, dp := range sum.DataPoints {
				sets = append(sets, dp.Attributes)
			}
		}
	}
	if len(sets) == 0 {
		t.Fatal("no data points recorded for rate limit checks")
	}
	return sets
}

func TestClientIPTelemetryGating(t *testing.T) {
	run := func(t *testing.T, logIPs bool) []attribute.Set {
		reader := sdkmetric.NewManualReader()
		provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
		t.Cleanup(func() { provider.Shutdown(context.Background()) })

		inst, err := instrumentation.New(instrumentation.Config{
			Enabled:       true,
			LogClientIPs:  logIPs,
			MeterProvider: provider,
		})
		if err != nil {
			t.Fatalf("instrumentation.New() error = %v", err)
		}

		g, _ := newTestGuard(t, func(c *Config) { c.Instrumentation = inst })
		g.CheckRateLimit("203.0.113.10", "alice", ratelimit.ViolationFailedLogin)
		return checkMetricAttrs(t, reader)
	}

	t.Run("enabled attaches client ip", func(t *testing.T) {
		for _, set := range run(t, true) {
			if v, ok := set.Value(attribute.Key("client.ip")); !ok || v.AsString() != "203.0.113.10" {
				t.Errorf("client.ip attribute = %v, present %v", v.Emit(), ok)
			}
		}
	})

	t.Run("default omits client ip", func(t *testing.T) {
		for _, set := range run(t, false) {
			if _, ok := set.Value(attribute.Key("client.ip")); ok {
				t.Error("client.ip attribute attached with IP logging off")
			}
		}
	})
}
