package session

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidCredentials covers unknown email and wrong password alike;
	// callers must surface the same message for both so accounts cannot be
	// enumerated.
	ErrInvalidCredentials = errors.New("session: invalid credentials")
	ErrAccountInactive    = errors.New("session: account inactive")
	ErrInvalidToken       = errors.New("session: invalid token")
	ErrInvalidInput       = errors.New("session: invalid input")
	ErrNotFound           = errors.New("session: not found")
)

// LockedError is returned while an account lockout is in force. Unlike
// credential failures, lockout responses disclose the unlock time.
type LockedError struct {
	Until time.Time
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("session: account locked until %s", e.Until.UTC().Format(time.RFC3339))
}

// IsLocked unwraps a LockedError if err carries one.
func IsLocked(err error) (*LockedError, bool) {
	var le *LockedError
	if errors.As(err, &le) {
		return le, true
	}
	return nil, false
}
