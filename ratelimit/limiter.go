// Package ratelimit implements an adaptive brute-force rate limiter with
// per-violation-type sliding windows, escalating delays, and account/IP
// lockouts. All state lives inside an explicit Limiter object constructed
// once per process; there is no cross-process sharing.
package ratelimit

import (
	"container/list"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stevenknowswhy/authguard/clock"
)

// window tracks recent failure timestamps for one subject key.
type window struct {
	key        string
	times      []time.Time
	span       time.Duration // sliding window length for this key
	lastAccess time.Time
}

// Limiter throttles authentication-sensitive operations per requester and
// per account. Checking and recording are decoupled: Check is a pure read,
// Record commits the outcome, so retries never double-count.
type Limiter struct {
	mu  sync.RWMutex
	cfg Config

	windows  map[string]*list.Element // subject key -> element of *window
	lruList  *list.List
	lockouts map[string]*LockoutState
	attempts []AttemptRecord

	clock  clock.Clock
	logger *slog.Logger

	stopCleanup   chan struct{}
	stopOnce      sync.Once
	cleanupActive atomic.Bool

	totalAllowed   atomic.Int64
	totalBlocked   atomic.Int64
	totalEvictions int64
	totalCleanups  int64
}

// New creates a Limiter and starts its background cleanup loop.
// The configuration is validated eagerly.
func New(cfg Config, clk clock.Clock, logger *slog.Logger) (*Limiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.System()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxEntries == 0 {
		cfg.MaxEntries = DefaultMaxEntries
	}

	l := &Limiter{
		cfg:         cfg,
		windows:     make(map[string]*list.Element),
		lruList:     list.New(),
		lockouts:    make(map[string]*LockoutState),
		clock:       clk,
		logger:      logger,
		stopCleanup: make(chan struct{}),
	}

	go l.cleanupLoop()

	logger.Info("Adaptive rate limiter initialized",
		"violation_types", len(cfg.Limits),
		"account_lockout_ttl", cfg.AccountLockoutTTL,
		"ip_lockout_ttl", cfg.IPLockoutTTL,
		"max_entries", cfg.MaxEntries)

	return l, nil
}

// Subject key layout. The violation type is part of the key so each type
// gets an independent window.
func ipKey(v Violation, ip string) string       { return "ip|" + string(v) + "|" + ip }
func userKey(v Violation, userID string) string { return "user|" + string(v) + "|" + userID }
func globalIPKey(ip string) string              { return "ip|*|" + ip }
func accountLockKey(userID string) string       { return "account|" + userID }
func ipLockKey(ip string) string                { return "ip|" + ip }

// Check consults current window counts and lock state for the subject.
// It records nothing; callers commit the outcome separately via Record.
// Non-blocking and bounded: sits on the hot path of every request.
func (l *Limiter) Check(ip, userID string, v Violation) Result {
	if !v.Valid() {
		// Unknown types have no configured rules, so they fail closed
		// rather than passing everything unchecked.
		l.logger.Warn("Check called with unknown violation type", "violation_type", string(v))
		l.totalBlocked.Add(1)
		return Result{}
	}

	now := l.clock.Now()
	limits := l.cfg.Limits[v]

	l.mu.RLock()
	defer l.mu.RUnlock()

	// IP lock first: the broader subject wins when both are locked.
	if lock := l.activeLockLocked(ipLockKey(ip), now); lock != nil {
		l.totalBlocked.Add(1)
		return Result{LockReason: LockReasonIP, RetryAfter: lock.ExpiresAt.Sub(now)}
	}
	if userID != "" {
		if lock := l.activeLockLocked(accountLockKey(userID), now); lock != nil {
			l.totalBlocked.Add(1)
			return Result{LockReason: LockReasonAccount, RetryAfter: lock.ExpiresAt.Sub(now)}
		}
	}

	res := Result{Allowed: true}

	ipCount := l.countLocked(ipKey(v, ip), now)
	if limits.IP.enabled() && ipCount >= limits.IP.Max {
		res.Allowed = false
	}
	if l.cfg.GlobalIP.enabled() && l.countLocked(globalIPKey(ip), now) >= l.cfg.GlobalIP.Max {
		res.Allowed = false
	}

	violations := ipCount
	remaining := max(0, limits.IP.Max-ipCount)
	if userID != "" && limits.User.enabled() {
		userCount := l.countLocked(userKey(v, userID), now)
		if userCount >= limits.User.Max {
			res.Allowed = false
		}
		violations = userCount
		remaining = max(0, limits.User.Max-userCount)
	}

	res.AttemptsRemaining = remaining
	res.Delay = l.Delay(violations)

	if res.Allowed {
		l.totalAllowed.Add(1)
	} else {
		l.totalBlocked.Add(1)
	}
	return res
}

// Record appends an attempt. A failure increments the IP-keyed, user-keyed,
// and cross-type IP windows for the violation type; crossing a threshold
// creates or extends a lockout. A single success clears the user's failure
// window for that type, so an eventually-successful user is not penalized
// forever.
func (l *Limiter) Record(ip, userID string, v Violation, success bool) *Outcome {
	if !v.Valid() {
		l.logger.Warn("Record called with unknown violation type", "violation_type", string(v))
		return &Outcome{}
	}

	now := l.clock.Now()
	limits := l.cfg.Limits[v]
	subject := ip
	if userID != "" {
		subject = userID
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.appendAttemptLocked(AttemptRecord{
		SubjectKey: subject,
		Violation:  v,
		Timestamp:  now,
		Success:    success,
	})

	if success {
		if userID != "" {
			if elem, ok := l.windows[userKey(v, userID)]; ok {
				l.removeWindowLocked(elem)
			}
		}
		return &Outcome{}
	}

	out := &Outcome{}

	ipCount := l.recordFailureLocked(ipKey(v, ip), limits.IP.Window, now)
	out.FailureCount = ipCount

	var globalCount int
	if l.cfg.GlobalIP.enabled() {
		globalCount = l.recordFailureLocked(globalIPKey(ip), l.cfg.GlobalIP.Window, now)
	}

	if userID != "" && limits.User.enabled() {
		userCount := l.recordFailureLocked(userKey(v, userID), limits.User.Window, now)
		out.FailureCount = userCount
		if userCount >= limits.User.Max {
			out.AccountLock = l.lockLocked(accountLockKey(userID), LockReasonAccount, userCount, l.cfg.AccountLockoutTTL, now)
		}
	}

	if (limits.IP.enabled() && ipCount >= limits.IP.Max) ||
		(l.cfg.GlobalIP.enabled() && globalCount >= l.cfg.GlobalIP.Max) {
		count := max(ipCount, globalCount)
		out.IPLock = l.lockLocked(ipLockKey(ip), LockReasonIP, count, l.cfg.IPLockoutTTL, now)
	}

	return out
}

// WindowCount returns the number of tracked sliding windows. Cheap; safe to
// call from metric callbacks.
func (l *Limiter) WindowCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.windows)
}

// LockoutCount returns the number of lockout entries, expired or not
func (l *Limiter) LockoutCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.lockouts)
}

// IsAccountLocked reports whether the account currently has an active lockout
func (l *Limiter) IsAccountLocked(userID string) bool {
	now := l.clock.Now()
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.activeLockLocked(accountLockKey(userID), now) != nil
}

// IsIPLocked reports whether the IP currently has an active lockout
func (l *Limiter) IsIPLocked(ip string) bool {
	now := l.clock.Now()
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.activeLockLocked(ipLockKey(ip), now) != nil
}

// UnlockAccount clears an account lockout immediately, regardless of TTL.
// Returns true if an active lockout existed. The caller is responsible for
// auditing the override.
func (l *Limiter) UnlockAccount(userID string) bool {
	return l.unlock(accountLockKey(userID), func() {
		for _, v := range Violations {
			if elem, ok := l.windows[userKey(v, userID)]; ok {
				l.removeWindowLocked(elem)
			}
		}
	})
}

// UnlockIP clears an IP lockout immediately, regardless of TTL.
func (l *Limiter) UnlockIP(ip string) bool {
	return l.unlock(ipLockKey(ip), func() {
		for _, v := range Violations {
			if elem, ok := l.windows[ipKey(v, ip)]; ok {
				l.removeWindowLocked(elem)
			}
		}
		if elem, ok := l.windows[globalIPKey(ip)]; ok {
			l.removeWindowLocked(elem)
		}
	})
}

func (l *Limiter) unlock(lockKey string, clearWindows func()) bool {
	now := l.clock.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	lock, ok := l.lockouts[lockKey]
	delete(l.lockouts, lockKey)
	// Clear the failure windows too, or the very next failure would
	// immediately re-trigger the lockout.
	clearWindows()
	return ok && lock.ExpiresAt.After(now)
}

// Delay returns the progressive delay for the given violation count:
// zero at zero violations, then BaseDelay doubling per violation, capped at
// MaxDelay. Monotonically non-decreasing.
func (l *Limiter) Delay(violationCount int) time.Duration {
	if violationCount <= 0 || l.cfg.BaseDelay <= 0 {
		return 0
	}
	d := l.cfg.BaseDelay
	for i := 1; i < violationCount; i++ {
		d *= 2
		if d >= l.cfg.MaxDelay {
			return l.cfg.MaxDelay
		}
	}
	if d > l.cfg.MaxDelay {
		return l.cfg.MaxDelay
	}
	return d
}

// Cleanup evicts expired attempt windows and expired lockouts to bound
// memory. Idempotent; concurrent invocations collapse to one sweep.
func (l *Limiter) Cleanup() {
	if !l.cleanupActive.CompareAndSwap(false, true) {
		return
	}
	defer l.cleanupActive.Store(false)

	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	var next *list.Element
	for elem := l.lruList.Front(); elem != nil; elem = next {
		next = elem.Next()
		w := elem.Value.(*window)
		w.prune(now)
		if len(w.times) == 0 && now.Sub(w.lastAccess) > w.span {
			l.removeWindowLocked(elem)
			removed++
		}
	}

	expiredLocks := 0
	for key, lock := range l.lockouts {
		if !lock.ExpiresAt.After(now) {
			delete(l.lockouts, key)
			expiredLocks++
		}
	}

	cutoff := now.Add(-attemptLogRetention)
	n := 0
	for _, a := range l.attempts {
		if a.Timestamp.After(cutoff) {
			l.attempts[n] = a
			n++
		}
	}
	l.attempts = l.attempts[:n]

	l.totalCleanups++
	if removed > 0 || expiredLocks > 0 {
		l.logger.Debug("Rate limiter cleanup completed",
			"windows_removed", removed,
			"lockouts_expired", expiredLocks,
			"windows_remaining", len(l.windows),
			"total_cleanups", l.totalCleanups)
	}
}

// Stop gracefully stops the cleanup goroutine. Safe to call multiple times.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() {
		close(l.stopCleanup)
	})
}

func (l *Limiter) cleanupLoop() {
	ticker := time.NewTicker(l.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.Cleanup()
		case <-l.stopCleanup:
			return
		}
	}
}

// --- internals, all called with l.mu held ---

func (l *Limiter) activeLockLocked(lockKey string, now time.Time) *LockoutState {
	lock, ok := l.lockouts[lockKey]
	if !ok || !lock.ExpiresAt.After(now) {
		return nil
	}
	return lock
}

// countLocked counts in-window failures without mutating anything,
// so it is safe under the read lock.
func (l *Limiter) countLocked(key string, now time.Time) int {
	elem, ok := l.windows[key]
	if !ok {
		return 0
	}
	w := elem.Value.(*window)
	cutoff := now.Add(-w.span)
	count := 0
	for _, t := range w.times {
		if t.After(cutoff) {
			count++
		}
	}
	return count
}

func (l *Limiter) recordFailureLocked(key string, span time.Duration, now time.Time) int {
	if span <= 0 {
		return 0
	}

	var w *window
	if elem, ok := l.windows[key]; ok {
		l.lruList.MoveToFront(elem)
		w = elem.Value.(*window)
	} else {
		if l.cfg.MaxEntries > 0 && len(l.windows) >= l.cfg.MaxEntries {
			l.evictLRULocked()
		}
		w = &window{key: key, span: span}
		l.windows[key] = l.lruList.PushFront(w)
	}

	w.lastAccess = now
	w.prune(now)
	w.times = append(w.times, now)
	return len(w.times)
}

func (l *Limiter) lockLocked(lockKey string, reason LockReason, count int, ttl time.Duration, now time.Time) *LockoutState {
	lock := &LockoutState{
		SubjectKey:     strings.SplitN(lockKey, "|", 2)[1],
		Reason:         reason,
		LockedAt:       now,
		ExpiresAt:      now.Add(ttl),
		ViolationCount: count,
	}
	l.lockouts[lockKey] = lock
	l.logger.Warn("Subject locked out",
		"reason", string(reason),
		"violation_count", count,
		"expires_at", lock.ExpiresAt)
	return lock
}

func (l *Limiter) removeWindowLocked(elem *list.Element) {
	w := elem.Value.(*window)
	delete(l.windows, w.key)
	l.lruList.Remove(elem)
}

func (l *Limiter) evictLRULocked() {
	elem := l.lruList.Back()
	if elem == nil {
		return
	}
	l.removeWindowLocked(elem)
	l.totalEvictions++
	l.logger.Debug("Rate limiter LRU eviction",
		"total_evictions", l.totalEvictions,
		"current_entries", len(l.windows))
}

func (l *Limiter) appendAttemptLocked(a AttemptRecord) {
	l.attempts = append(l.attempts, a)
	if len(l.attempts) > maxAttemptLog {
		// Drop the oldest half in one copy instead of shifting per append.
		keep := len(l.attempts) / 2
		copy(l.attempts, l.attempts[len(l.attempts)-keep:])
		l.attempts = l.attempts[:keep]
	}
}

func (w *window) prune(now time.Time) {
	cutoff := now.Add(-w.span)
	n := 0
	for _, t := range w.times {
		if t.After(cutoff) {
			w.times[n] = t
			n++
		}
	}
	w.times = w.times[:n]
}
