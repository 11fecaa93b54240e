package pgconn

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithRetry_SucceedsOnFirstTry(t *testing.T) {
	m := &Manager{retry: RetryConfig{MaxElapsedTime: time.Second, InitialInterval: time.Millisecond}}
	calls := 0
	err := m.WithRetry(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestWithRetry_RetriesTransientThenSucceeds(t *testing.T) {
	m := &Manager{retry: RetryConfig{MaxElapsedTime: time.Second, InitialInterval: time.Millisecond, Multiplier: 1.1}}
	calls := 0
	err := m.WithRetry(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("connection reset")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestWithRetry_DoesNotRetryContextCanceled(t *testing.T) {
	m := &Manager{retry: RetryConfig{MaxElapsedTime: time.Second, InitialInterval: time.Millisecond}}
	calls := 0
	err := m.WithRetry(context.Background(), func(ctx context.Context) error {
		calls++
		return context.Canceled
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestIsRetryableConnError(t *testing.T) {
	assert.False(t, isRetryableConnError(nil))
	assert.False(t, isRetryableConnError(context.Canceled))
	assert.False(t, isRetryableConnError(context.DeadlineExceeded))
	assert.True(t, isRetryableConnError(errors.New("connection refused")))
}

func TestRetryConfig_ToExponentialBackOff_Defaults(t *testing.T) {
	cfg := RetryConfig{}
	expo := cfg.toExponentialBackOff()
	assert.NotZero(t, expo.InitialInterval)
}
