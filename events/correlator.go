// Package events provides structured, privacy-preserving logging of
// security-relevant events plus lightweight real-time correlation for abuse
// detection. The correlator never blocks traffic itself; it informs
// operators and can be consulted as an additional signal.
package events

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/stevenknowswhy/authguard/clock"
)

// Default detection tunables.
const (
	// DefaultFailureThreshold is the per-IP login failure count above which
	// the IP is flagged suspicious
	DefaultFailureThreshold = 5

	// DefaultRateLimitThreshold is the independent per-IP rate-limit
	// violation count above which the IP is flagged suspicious
	DefaultRateLimitThreshold = 10

	// DefaultDetectionWindow is the rolling window for both counters
	DefaultDetectionWindow = 15 * time.Minute

	// DefaultSuspicionTTL is how long a flagged IP stays suspicious
	DefaultSuspicionTTL = 24 * time.Hour

	// DefaultMaxTrackedIPs bounds per-IP tracking state
	DefaultMaxTrackedIPs = 10000
)

// Config holds correlator tunables.
type Config struct {
	// FailureThreshold flags an IP once its login failures in the window
	// exceed this count. Zero means DefaultFailureThreshold.
	FailureThreshold int

	// RateLimitThreshold flags an IP once its rate-limit violations in the
	// window exceed this count. Tracked independently of login failures so
	// an attacker staying under one threshold still trips the other.
	RateLimitThreshold int

	// DetectionWindow is the rolling window for both counters
	DetectionWindow time.Duration

	// SuspicionTTL is how long a flagged IP stays in the suspicious set
	SuspicionTTL time.Duration

	// MaxTrackedIPs bounds tracking state; the stalest IP is evicted beyond it
	MaxTrackedIPs int
}

func (c *Config) applyDefaults() {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = DefaultFailureThreshold
	}
	if c.RateLimitThreshold <= 0 {
		c.RateLimitThreshold = DefaultRateLimitThreshold
	}
	if c.DetectionWindow <= 0 {
		c.DetectionWindow = DefaultDetectionWindow
	}
	if c.SuspicionTTL <= 0 {
		c.SuspicionTTL = DefaultSuspicionTTL
	}
	if c.MaxTrackedIPs <= 0 {
		c.MaxTrackedIPs = DefaultMaxTrackedIPs
	}
}

// Correlator ingests classified events and maintains per-IP suspicion state
// and rolling statistics. Events are append-only; only the derived per-IP
// aggregates are mutable, and those are recomputed incrementally.
type Correlator struct {
	mu  sync.RWMutex
	cfg Config

	failedLogins  map[string][]time.Time
	rateLimitHits map[string][]time.Time
	suspicious    map[string]time.Time // IP -> when flagged

	clock  clock.Clock
	logger *slog.Logger

	totalEvents atomic.Int64
}

// New creates a Correlator.
func New(cfg Config, clk clock.Clock, logger *slog.Logger) *Correlator {
	cfg.applyDefaults()
	if clk == nil {
		clk = clock.System()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Correlator{
		cfg:           cfg,
		failedLogins:  make(map[string][]time.Time),
		rateLimitHits: make(map[string][]time.Time),
		suspicious:    make(map[string]time.Time),
		clock:         clk,
		logger:        logger,
	}
}

// Log classifies, sanitizes, and emits one security event. Severity comes
// from the static type table, never from the caller. Non-blocking and
// bounded: sits on the hot path of every authenticated request.
func (c *Correlator) Log(eventType, message string, metadata map[string]any) *Event {
	now := c.clock.Now()

	event := &Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Severity:  SeverityFor(eventType),
		Message:   SanitizeString(message),
		Metadata:  SanitizeMetadata(metadata),
		Timestamp: now,
	}
	if ip, ok := metadata["ip"].(string); ok {
		event.CorrelationKey = ip
	}

	c.totalEvents.Add(1)
	c.track(event, now)
	c.emit(event)

	return event
}

// IsSuspiciousIP reports whether the IP is currently flagged.
func (c *Correlator) IsSuspiciousIP(ip string) bool {
	now := c.clock.Now()
	c.mu.RLock()
	defer c.mu.RUnlock()
	flaggedAt, ok := c.suspicious[ip]
	return ok && now.Sub(flaggedAt) < c.cfg.SuspicionTTL
}

// track updates per-IP aggregates for the event types that feed suspicion
// scoring.
func (c *Correlator) track(event *Event, now time.Time) {
	ip := event.CorrelationKey
	if ip == "" {
		return
	}

	var counts map[string][]time.Time
	var threshold int
	switch event.Type {
	case EventAuthLoginFailure:
		counts, threshold = c.failedLogins, c.cfg.FailureThreshold
	case EventRateLimitExceeded:
		counts, threshold = c.rateLimitHits, c.cfg.RateLimitThreshold
	default:
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, tracked := counts[ip]; !tracked && len(counts) >= c.cfg.MaxTrackedIPs {
		evictStalest(counts)
	}

	cutoff := now.Add(-c.cfg.DetectionWindow)
	times := counts[ip]
	n := 0
	for _, t := range times {
		if t.After(cutoff) {
			times[n] = t
			n++
		}
	}
	times = append(times[:n], now)
	counts[ip] = times

	if len(times) > threshold {
		if _, already := c.suspicious[ip]; !already {
			c.suspicious[ip] = now
			c.logger.Warn("security_event",
				"event_type", EventBruteForceDetected,
				"severity", string(SeverityFor(EventBruteForceDetected)),
				"correlation_key", ip,
				"trigger", event.Type,
				"count_in_window", len(times),
				"window", c.cfg.DetectionWindow)
		}
	}
}

// evictStalest drops the IP whose most recent observation is oldest.
// Called with the write lock held.
func evictStalest(counts map[string][]time.Time) {
	var stalest string
	var stalestAt time.Time
	for ip, times := range counts {
		last := times[len(times)-1]
		if stalest == "" || last.Before(stalestAt) {
			stalest = ip
			stalestAt = last
		}
	}
	delete(counts, stalest)
}

func (c *Correlator) emit(event *Event) {
	attrs := []any{
		"event_id", event.ID,
		"event_type", event.Type,
		"severity", string(event.Severity),
		"correlation_key", event.CorrelationKey,
		"metadata", event.Metadata,
		"timestamp", event.Timestamp,
	}
	switch event.Severity {
	case SeverityCritical, SeverityHigh:
		c.logger.Error("security_event", append([]any{"message", event.Message}, attrs...)...)
	case SeverityMedium:
		c.logger.Warn("security_event", append([]any{"message", event.Message}, attrs...)...)
	default:
		c.logger.Info("security_event", append([]any{"message", event.Message}, attrs...)...)
	}
}

// Stats is a read-only snapshot of correlator state.
type Stats struct {
	// SuspiciousIPs is the set of currently flagged IPs
	SuspiciousIPs []string

	// FailedAttemptsByIP tallies in-window login failures per IP
	FailedAttemptsByIP map[string]int

	// RateLimitViolationsByIP tallies in-window rate-limit violations per IP
	RateLimitViolationsByIP map[string]int

	// TotalEvents counts every event ever logged by this correlator
	TotalEvents int64
}

// SuspiciousCount returns the size of the suspicious set. Cheap; safe to
// call from metric callbacks.
func (c *Correlator) SuspiciousCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.suspicious)
}

// Stats returns current correlation state. Read-only, side-effect-free.
func (c *Correlator) Stats() Stats {
	now := c.clock.Now()
	cutoff := now.Add(-c.cfg.DetectionWindow)

	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Stats{
		FailedAttemptsByIP:      make(map[string]int, len(c.failedLogins)),
		RateLimitViolationsByIP: make(map[string]int, len(c.rateLimitHits)),
		TotalEvents:             c.totalEvents.Load(),
	}
	for ip, flaggedAt := range c.suspicious {
		if now.Sub(flaggedAt) < c.cfg.SuspicionTTL {
			s.SuspiciousIPs = append(s.SuspiciousIPs, ip)
		}
	}
	for ip, times := range c.failedLogins {
		if n := countAfter(times, cutoff); n > 0 {
			s.FailedAttemptsByIP[ip] = n
		}
	}
	for ip, times := range c.rateLimitHits {
		if n := countAfter(times, cutoff); n > 0 {
			s.RateLimitViolationsByIP[ip] = n
		}
	}
	return s
}

func countAfter(times []time.Time, cutoff time.Time) int {
	n := 0
	for _, t := range times {
		if t.After(cutoff) {
			n++
		}
	}
	return n
}
