package authguard

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/stevenknowswhy/authguard/events"
	"github.com/stevenknowswhy/authguard/instrumentation"
	"github.com/stevenknowswhy/authguard/internal/httpsec"
	"github.com/stevenknowswhy/authguard/ratelimit"
)

type contextKey string

const userIDContextKey contextKey = "authguard.user_id"

// WithUserID attaches the authenticated (or claimed) user identity to the
// context so the middleware can apply per-account limits. Call it before
// Protect runs, e.g. from session middleware that already knows the user.
// When the identity only arrives in the request body, Protect cannot see
// it and checks IP-scoped limits alone; the handler must call
// CheckRateLimit again with the parsed identity before verifying
// credentials, or account lockouts are never enforced.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}

// UserIDFromContext returns the user identity set by WithUserID, or ""
func UserIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(userIDContextKey).(string); ok {
		return id
	}
	return ""
}

// ClientIP resolves the client address for a request under the configured
// proxy trust. Handlers that key their own CheckRateLimit or RecordAttempt
// calls must use this, not r.RemoteAddr: RemoteAddr carries an ephemeral
// port, so raw values never accumulate into one per-IP window.
func (g *Guard) ClientIP(r *http.Request) string {
	return httpsec.ClientIP(r, g.cfg.TrustProxy, g.cfg.TrustedProxyCount)
}

// errorResponse is the JSON body for middleware rejections. Deliberately
// sparse: no counts, no thresholds, no window sizes.
type errorResponse struct {
	Error      string `json:"error"`
	Reason     string `json:"reason,omitempty"`
	RetryAfter int    `json:"retryAfter,omitempty"`
}

// Protect wraps a handler with the full defense pipeline for one violation
// class: request ID propagation, security headers, client IP resolution,
// token-bucket smoothing, adaptive rate limiting with lockouts, and
// progressive delay. Recording outcomes stays with the handler, which is
// the only place that knows whether the credentials checked out; use
// RecordAttempt there.
//
// The account-scoped check here depends on WithUserID having run first.
// For identities carried in the request body, the handler must re-check
// with CheckRateLimit after parsing; see WithUserID.
func (g *Guard) Protect(v ratelimit.Violation, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := g.clock.Now()

		requestID := r.Header.Get(httpsec.RequestIDHeader)
		if !httpsec.ValidRequestID(requestID) {
			requestID = httpsec.GenerateRequestID()
		}
		w.Header().Set(httpsec.RequestIDHeader, requestID)
		httpsec.SetSecurityHeaders(w)

		ctx := httpsec.WithRequestID(r.Context(), requestID)
		r = r.WithContext(ctx)

		ip := g.ClientIP(r)
		userID := UserIDFromContext(ctx)

		if g.bucket != nil && !g.bucket.Allow(ip) {
			g.LogEvent(events.EventRateLimitExceeded, "request burst exceeded token bucket",
				map[string]any{"ip": ip, "endpoint": r.URL.Path})
			g.writeError(w, http.StatusTooManyRequests, errorResponse{
				Error:      "Too many requests",
				Reason:     CodeRateLimited,
				RetryAfter: 1,
			})
			g.recordHTTP(r, http.StatusTooManyRequests, start)
			return
		}

		res := g.CheckRateLimit(ip, userID, v)
		if !res.Allowed {
			resp := errorResponse{
				Error:      "Too many requests",
				Reason:     CodeRateLimited,
				RetryAfter: retryAfterSeconds(res.RetryAfter),
			}
			if res.LockReason != "" {
				resp.Error = "Temporarily locked"
				resp.Reason = CodeLockout
			}
			g.writeError(w, http.StatusTooManyRequests, resp)
			g.recordHTTP(r, http.StatusTooManyRequests, start)
			return
		}

		if res.Delay > 0 && !g.cfg.DisableProgressiveDelay {
			g.inst.Metrics().ProgressiveDelayMs.Record(ctx,
				float64(res.Delay.Milliseconds()),
				metric.WithAttributes(attribute.String(instrumentation.AttrViolationType, string(v))))
			select {
			case <-time.After(res.Delay):
			case <-ctx.Done():
				g.recordHTTP(r, http.StatusServiceUnavailable, start)
				return
			}
		}

		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		g.recordHTTP(r, sw.status, start)
	})
}

// WriteError renders a classified error as the JSON rejection body, with
// internal detail logged but never echoed to the client.
func (g *Guard) WriteError(w http.ResponseWriter, r *http.Request, err error) {
	classified := Classify(err)
	if classified.Status >= http.StatusInternalServerError {
		g.logger.Error("request failed",
			"request_id", httpsec.RequestID(r.Context()),
			"code", classified.Code,
			"error", classified.Error())
	}
	g.writeError(w, classified.Status, errorResponse{
		Error:      classified.SafeMessage(),
		Reason:     classified.Code,
		RetryAfter: retryAfterSeconds(classified.RetryAfter),
	})
}

func (g *Guard) writeError(w http.ResponseWriter, status int, resp errorResponse) {
	w.Header().Set("Content-Type", "application/json")
	if resp.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(resp.RetryAfter))
	}
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		g.logger.Error("failed to write error response", "error", err)
	}
}

func (g *Guard) recordHTTP(r *http.Request, status int, start time.Time) {
	attrs := metric.WithAttributes(
		attribute.String(instrumentation.AttrHTTPMethod, r.Method),
		attribute.String(instrumentation.AttrHTTPEndpoint, r.URL.Path),
		attribute.Int(instrumentation.AttrHTTPStatusCode, status),
	)
	m := g.inst.Metrics()
	m.HTTPRequestsTotal.Add(r.Context(), 1, attrs)
	m.HTTPRequestDuration.Record(r.Context(),
		float64(g.clock.Now().Sub(start).Microseconds())/1000.0, attrs)
}

// retryAfterSeconds rounds up so a client honoring the hint never retries
// inside the lockout.
func retryAfterSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	secs := int((d + time.Second - 1) / time.Second)
	return secs
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
