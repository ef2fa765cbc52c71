package session

import (
	"fmt"
	"time"
)

const (
	defaultLockoutThreshold = 5
	defaultLockoutDuration  = 30 * time.Minute
)

// LockoutPolicy drives the account lockout state machine: after Threshold
// consecutive failed authentications the account locks for Duration. Any
// successful authentication resets the counter and clears the lock
// explicitly rather than waiting for the window to elapse.
type LockoutPolicy struct {
	Threshold int
	Duration  time.Duration
}

// DefaultLockoutPolicy returns the stock 5-failures/30-minute policy.
func DefaultLockoutPolicy() LockoutPolicy {
	return LockoutPolicy{Threshold: defaultLockoutThreshold, Duration: defaultLockoutDuration}
}

// Validate rejects configurations that would lock accounts permanently or
// never.
func (p LockoutPolicy) Validate() error {
	if p.Threshold < 1 {
		return fmt.Errorf("%w: lockout threshold must be at least 1, got %d", ErrInvalidInput, p.Threshold)
	}
	if p.Duration <= 0 {
		return fmt.Errorf("%w: lockout duration must be positive, got %s", ErrInvalidInput, p.Duration)
	}
	return nil
}

// Exceeded reports whether the given consecutive-failure count trips the
// lock.
func (p LockoutPolicy) Exceeded(failures int) bool {
	return failures >= p.Threshold
}

// LockUntil computes the unlock instant for a lock starting now.
func (p LockoutPolicy) LockUntil(now time.Time) time.Time {
	return now.Add(p.Duration)
}
