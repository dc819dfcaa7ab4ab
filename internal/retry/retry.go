// Package retry implements a bounded exponential-backoff retry helper used
// by the copy/verify pipeline for transient destination I/O errors (§4.4:
// "the pipeline may transparently retry an operation up to 3 times with
// exponential backoff"). Checksum mismatches and cancellation are never
// retried; callers express that by how they classify errors with
// isRetriable.
package retry

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/kopia/imageintact/internal/logging"
)

//nolint:gochecknoglobals
var (
	retryInitialSleepAmount = 1 * time.Second
	retryMaxSleepAmount     = 4 * time.Second
	maxAttempts             = 4 // the first try plus 3 retries
)

var log = logging.Module("imageintact/retry")

// WithExponentialBackoff invokes f until it succeeds, isRetriable(err)
// returns false, maxAttempts is exhausted, or ctx is cancelled. Sleep
// durations double each attempt starting at retryInitialSleepAmount, capped
// at retryMaxSleepAmount.
func WithExponentialBackoff[T any](ctx context.Context, desc string, f func() (T, error), isRetriable func(error) bool) (T, error) {
	var zero T

	sleep := retryInitialSleepAmount

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		v, err := f()
		if err == nil {
			return v, nil
		}

		if !isRetriable(err) {
			return zero, err
		}

		if attempt == maxAttempts {
			return zero, errors.Wrapf(err, "unable to complete %s despite %d retries", desc, maxAttempts-1)
		}

		log.Debugf("retrying %s after error: %v (attempt %d/%d)", desc, err, attempt, maxAttempts)

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(sleep):
		}

		sleep *= 2
		if sleep > retryMaxSleepAmount {
			sleep = retryMaxSleepAmount
		}
	}

	return zero, errors.Errorf("unable to complete %s", desc)
}

// WithExponentialBackoffNoValue is WithExponentialBackoff for functions with
// no return value besides error.
func WithExponentialBackoffNoValue(ctx context.Context, desc string, f func() error, isRetriable func(error) bool) error {
	_, err := WithExponentialBackoff(ctx, desc, func() (struct{}, error) {
		return struct{}{}, f()
	}, isRetriable)

	return err
}
