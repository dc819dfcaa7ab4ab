package retry

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

var errRetriable = errors.New("retriable")

func isRetriable(e error) bool {
	return errors.Is(e, errRetriable)
}

func TestRetry(t *testing.T) {
	retryInitialSleepAmount = 10 * time.Millisecond
	retryMaxSleepAmount = 20 * time.Millisecond
	maxAttempts = 3

	cnt := 0

	cases := []struct {
		desc      string
		f         func() (int, error)
		want      int
		wantError bool
	}{
		{"success-nil", func() (int, error) { return 0, nil }, 0, false},
		{"success", func() (int, error) { return 3, nil }, 3, false},
		{"retriable-succeeds", func() (int, error) {
			cnt++
			if cnt < 2 {
				return 0, errRetriable
			}
			return 4, nil
		}, 4, false},
		{"retriable-never-succeeds", func() (int, error) { return 0, errRetriable }, 0, true},
	}

	ctx := context.Background()

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			got, err := WithExponentialBackoff(ctx, tc.desc, tc.f, isRetriable)
			if tc.wantError {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}

			require.Equal(t, tc.want, got)
		})
	}
}

func TestRetryContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := WithExponentialBackoffNoValue(ctx, "canceled", func() error {
		return errRetriable
	}, isRetriable)

	require.ErrorIs(t, err, context.Canceled)
}

func TestRetryNonRetriableNotRetried(t *testing.T) {
	retryInitialSleepAmount = 10 * time.Millisecond
	retryMaxSleepAmount = 20 * time.Millisecond
	maxAttempts = 3

	calls := 0
	permanent := errors.New("checksum mismatch") //nolint:goerr113

	_, err := WithExponentialBackoff(context.Background(), "verify", func() (int, error) {
		calls++
		return 0, permanent
	}, isRetriable)

	require.ErrorIs(t, err, permanent)
	require.Equal(t, 1, calls)
}
