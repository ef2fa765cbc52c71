package pg

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"net"
	"strings"
	"time"
)

const (
	retryAttempts  = 3
	retryBaseDelay = 50 * time.Millisecond
)

// withRetry re-runs a read-only query after a transient failure, doubling the
// delay between attempts. Writes never go through here; Rotate in particular
// must observe exactly one attempt.
func withRetry(ctx context.Context, op func() error) error {
	var err error
	for attempt := 0; attempt < retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryBaseDelay << (attempt - 1)):
			}
		}
		if err = op(); !isTransient(err) {
			return err
		}
	}
	return err
}

// isTransient reports whether an error is worth another attempt: connection
// faults, serialization failures and deadlocks. Domain sentinels, constraint
// violations and context cancellation are final.
func isTransient(err error) bool {
	if err == nil ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, sql.ErrNoRows) {
		return false
	}
	if pgErr, ok := maybePgError(err); ok {
		switch pgErr.Code {
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return true
		}
		return strings.HasPrefix(pgErr.Code, "08") // connection exceptions
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, driver.ErrBadConn)
}
