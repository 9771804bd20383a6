package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/eddiefleurent/strategy-engine/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_Do_SucceedsFirstTry(t *testing.T) {
	c := NewClient(nil, Config{MaxRetries: 3, InitialBackoff: time.Millisecond, MaxBackoff: 10 * time.Millisecond, Timeout: time.Second})
	calls := 0
	err := c.Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestClient_Do_RetriesTransientThenSucceeds(t *testing.T) {
	c := NewClient(nil, Config{MaxRetries: 3, InitialBackoff: time.Millisecond, MaxBackoff: 10 * time.Millisecond, Timeout: time.Second})
	calls := 0
	err := c.Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("connection reset")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestClient_Do_StopsOnPermanentError(t *testing.T) {
	c := NewClient(nil, Config{MaxRetries: 3, InitialBackoff: time.Millisecond, MaxBackoff: 10 * time.Millisecond, Timeout: time.Second})
	calls := 0
	permanent := errs.New(errs.CodeBrokerPermanent, "invalid symbol")
	err := c.Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return permanent
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestClient_Do_ExhaustsRetriesOnPersistentTransient(t *testing.T) {
	c := NewClient(nil, Config{MaxRetries: 2, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond, Timeout: time.Second})
	calls := 0
	err := c.Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return errors.New("503 service unavailable")
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls) // initial + 2 retries
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(errors.New("dial tcp: connection refused")))
	assert.True(t, IsTransient(errs.New(errs.CodeBrokerTransient, "rate limited")))
	assert.False(t, IsTransient(errs.New(errs.CodeBrokerPermanent, "bad request")))
	assert.False(t, IsTransient(errors.New("invalid argument")))
	assert.False(t, IsTransient(nil))
}
