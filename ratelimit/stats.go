package ratelimit

import (
	"strings"
	"time"
)

// Stats holds limiter statistics for operational monitoring. Not used for
// access decisions.
type Stats struct {
	// TrackedIPWindows is the number of live IP-keyed windows
	TrackedIPWindows int

	// TrackedUserWindows is the number of live user-keyed windows
	TrackedUserWindows int

	// LockedAccounts is the number of accounts with an active lockout
	LockedAccounts int

	// LockedIPs is the number of IPs with an active lockout
	LockedIPs int

	// ViolationsLast15m counts failed attempts in the last 15 minutes
	ViolationsLast15m int

	// ViolationsLastHour counts failed attempts in the last hour
	ViolationsLastHour int

	// ViolationsLastDay counts failed attempts in the last 24 hours
	ViolationsLastDay int

	// TotalAllowed is the number of checks that passed
	TotalAllowed int64

	// TotalBlocked is the number of checks that were rejected
	TotalBlocked int64

	// TotalEvictions is the number of LRU window evictions
	TotalEvictions int64

	// TotalCleanups is the number of completed cleanup sweeps
	TotalCleanups int64

	// MemoryPressure is the percentage of MaxEntries in use (0-100)
	MemoryPressure float64
}

// Stats returns a snapshot of current limiter state.
func (l *Limiter) Stats() Stats {
	now := l.clock.Now()

	l.mu.RLock()
	defer l.mu.RUnlock()

	s := Stats{
		TotalAllowed:   l.totalAllowed.Load(),
		TotalBlocked:   l.totalBlocked.Load(),
		TotalEvictions: l.totalEvictions,
		TotalCleanups:  l.totalCleanups,
	}

	for key := range l.windows {
		if strings.HasPrefix(key, "user|") {
			s.TrackedUserWindows++
		} else {
			s.TrackedIPWindows++
		}
	}

	for key, lock := range l.lockouts {
		if !lock.ExpiresAt.After(now) {
			continue
		}
		if strings.HasPrefix(key, "account|") {
			s.LockedAccounts++
		} else {
			s.LockedIPs++
		}
	}

	d15 := now.Add(-15 * time.Minute)
	h1 := now.Add(-time.Hour)
	h24 := now.Add(-24 * time.Hour)
	for _, a := range l.attempts {
		if a.Success || !a.Timestamp.After(h24) {
			continue
		}
		s.ViolationsLastDay++
		if a.Timestamp.After(h1) {
			s.ViolationsLastHour++
		}
		if a.Timestamp.After(d15) {
			s.ViolationsLast15m++
		}
	}

	if l.cfg.MaxEntries > 0 {
		s.MemoryPressure = float64(len(l.windows)) / float64(l.cfg.MaxEntries) * 100.0
	}

	return s
}
