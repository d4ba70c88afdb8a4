package ratelimit

import (
	"fmt"
	"time"
)

// Default tunables. All of these can be overridden per violation type
// through Config; none are hidden in code paths.
const (
	// DefaultAccountLockoutTTL is how long an account lockout lasts
	DefaultAccountLockoutTTL = 30 * time.Minute

	// DefaultIPLockoutTTL is how long an IP lockout lasts
	DefaultIPLockoutTTL = time.Hour

	// DefaultBaseDelay is the first non-zero progressive delay step
	DefaultBaseDelay = 250 * time.Millisecond

	// DefaultMaxDelay caps the progressive delay schedule
	DefaultMaxDelay = 30 * time.Second

	// DefaultCleanupInterval is how often the background sweep runs
	DefaultCleanupInterval = 5 * time.Minute

	// DefaultMaxEntries bounds the number of tracked subject windows
	DefaultMaxEntries = 10000

	// attemptLogRetention is how long raw attempts are kept for statistics
	attemptLogRetention = 24 * time.Hour

	// maxAttemptLog bounds the raw attempt log under sustained attack
	maxAttemptLog = 100000
)

// Rule is one threshold over one sliding window.
type Rule struct {
	// Max is the number of violations tolerated inside Window.
	// Zero disables the rule.
	Max int

	// Window is the sliding window length
	Window time.Duration
}

func (r Rule) enabled() bool { return r.Max > 0 }

// ViolationLimits holds the independent IP-level and user-level rules for
// one violation type.
type ViolationLimits struct {
	IP   Rule
	User Rule
}

// Config holds all rate limiter tunables.
type Config struct {
	// Limits maps each violation type to its IP and user rules.
	// Validated eagerly: every known violation type must be present.
	Limits map[Violation]ViolationLimits

	// GlobalIP counts violations from one IP across all users and
	// violation types, catching attackers who spread their probing.
	GlobalIP Rule

	// AccountLockoutTTL is the account lockout duration
	AccountLockoutTTL time.Duration

	// IPLockoutTTL is the IP lockout duration
	IPLockoutTTL time.Duration

	// BaseDelay is the first non-zero progressive delay step; each further
	// violation doubles it up to MaxDelay
	BaseDelay time.Duration

	// MaxDelay caps the progressive delay
	MaxDelay time.Duration

	// CleanupInterval is how often the background sweep runs
	CleanupInterval time.Duration

	// MaxEntries bounds tracked subject windows; LRU eviction beyond it.
	// Zero means DefaultMaxEntries.
	MaxEntries int
}

// DefaultConfig returns the default limit schedule.
func DefaultConfig() Config {
	return Config{
		Limits: map[Violation]ViolationLimits{
			ViolationAuthAttempt: {
				IP:   Rule{Max: 20, Window: 15 * time.Minute},
				User: Rule{Max: 10, Window: 15 * time.Minute},
			},
			ViolationFailedLogin: {
				IP:   Rule{Max: 10, Window: 15 * time.Minute},
				User: Rule{Max: 5, Window: 15 * time.Minute},
			},
			ViolationPasswordReset: {
				IP:   Rule{Max: 5, Window: time.Hour},
				User: Rule{Max: 3, Window: time.Hour},
			},
			ViolationTokenRefresh: {
				IP:   Rule{Max: 30, Window: 5 * time.Minute},
				User: Rule{Max: 10, Window: 5 * time.Minute},
			},
		},
		GlobalIP:          Rule{Max: 30, Window: time.Hour},
		AccountLockoutTTL: DefaultAccountLockoutTTL,
		IPLockoutTTL:      DefaultIPLockoutTTL,
		BaseDelay:         DefaultBaseDelay,
		MaxDelay:          DefaultMaxDelay,
		CleanupInterval:   DefaultCleanupInterval,
		MaxEntries:        DefaultMaxEntries,
	}
}

// Validate checks the configuration eagerly so misconfiguration surfaces at
// startup rather than on the first request.
func (c *Config) Validate() error {
	if len(c.Limits) == 0 {
		return fmt.Errorf("ratelimit: no violation limits configured")
	}
	for _, v := range Violations {
		limits, ok := c.Limits[v]
		if !ok {
			return fmt.Errorf("ratelimit: missing limits for violation type %q", v)
		}
		if limits.IP.enabled() && limits.IP.Window <= 0 {
			return fmt.Errorf("ratelimit: %q IP rule has non-positive window", v)
		}
		if limits.User.enabled() && limits.User.Window <= 0 {
			return fmt.Errorf("ratelimit: %q user rule has non-positive window", v)
		}
	}
	if c.GlobalIP.enabled() && c.GlobalIP.Window <= 0 {
		return fmt.Errorf("ratelimit: global IP rule has non-positive window")
	}
	if c.AccountLockoutTTL <= 0 {
		return fmt.Errorf("ratelimit: account lockout TTL must be positive")
	}
	if c.IPLockoutTTL <= 0 {
		return fmt.Errorf("ratelimit: IP lockout TTL must be positive")
	}
	if c.BaseDelay < 0 || c.MaxDelay < 0 || c.MaxDelay < c.BaseDelay {
		return fmt.Errorf("ratelimit: invalid progressive delay schedule")
	}
	if c.CleanupInterval <= 0 {
		return fmt.Errorf("ratelimit: cleanup interval must be positive")
	}
	if c.MaxEntries < 0 {
		return fmt.Errorf("ratelimit: max entries must not be negative")
	}
	return nil
}
