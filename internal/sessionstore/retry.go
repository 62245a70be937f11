package sessionstore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/agentcore-ai/agentcore/pkg/apperr"
)

const maxBusyAttempts = 5

const busyBaseInterval = 50 * time.Millisecond

// withBusyRetry mirrors internal/eventlog's retry discipline: the Session
// Store shares the same SQLite busy/locked failure mode and the same
// spec-mandated retry budget.
func withBusyRetry(ctx context.Context, fn func() error) error {
	attempt := 0
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = busyBaseInterval
	policy.Multiplier = 2.0
	policy.RandomizationFactor = 0
	policy.MaxElapsedTime = 0

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
			return apperr.Wrap(apperr.Cancelled, "session store write cancelled", err)
		}
		if lastErr == nil {
			lastErr = err
		}
		return apperr.Wrap(apperr.StorageFailed, "session store write failed after retries", lastErr)
	}
	return nil
}

func isBusy(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "busy") || strings.Contains(msg, "locked")
}
