package eventlog

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/agentcore-ai/agentcore/pkg/apperr"
)

// maxBusyAttempts caps retries on a busy database per spec §4.1/§9.
const maxBusyAttempts = 5

// busyBaseInterval is the exponential backoff base (50ms * 2^attempt).
const busyBaseInterval = 50 * time.Millisecond

// withBusyRetry runs fn, retrying with exponential backoff while the
// underlying error looks like a transient "database is locked/busy"
// condition. Any other error, or exhaustion of retries, is wrapped as
// StorageFailed.
func withBusyRetry(ctx context.Context, fn func() error) error {
	attempt := 0
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = busyBaseInterval
	policy.Multiplier = 2.0
	policy.RandomizationFactor = 0
	policy.MaxElapsedTime = 0 // bounded by attempt count instead

	var lastErr error
	op := func() error {
		attempt++
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !isBusy(err) {
			return backoff.Permanent(err)
		}
		if attempt >= maxBusyAttempts {
			return backoff.Permanent(err)
		}
		return err
	}

	capped := backoff.WithMaxRetries(policy, maxBusyAttempts-1)
	if err := backoff.Retry(op, backoff.WithContext(capped, ctx)); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return apperr.Wrap(apperr.Cancelled, "event log write cancelled", err)
		}
		if lastErr == nil {
			lastErr = err
		}
		return apperr.Wrap(apperr.StorageFailed, "event log write failed after retries", lastErr)
	}
	return nil
}

// isBusy detects SQLITE_BUSY/SQLITE_LOCKED either by the modernc.org/sqlite
// error string or a wrapped cause, since the driver does not expose a typed
// sentinel for every build.
func isBusy(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "busy") || strings.Contains(msg, "locked")
}
