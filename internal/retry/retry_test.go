package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolicyNextDelay(t *testing.T) {
	p := Policy{InitialDelay: 10 * time.Millisecond, MaxDelay: 50 * time.Millisecond, BackoffFactor: 2}

	assert.Equal(t, 10*time.Millisecond, p.NextDelay(0))
	assert.Equal(t, 10*time.Millisecond, p.NextDelay(1))
	assert.Equal(t, 20*time.Millisecond, p.NextDelay(2))
	assert.Equal(t, 40*time.Millisecond, p.NextDelay(3))
	assert.Equal(t, 50*time.Millisecond, p.NextDelay(4))

	assert.Equal(t, 50*time.Millisecond, Policy{}.NextDelay(1))
}

func TestDo(t *testing.T) {
	fast := Policy{MaxAttempts: 3, InitialDelay: time.Millisecond}
	boom := errors.New("boom")

	t.Run("SucceedsAfterRetry", func(t *testing.T) {
		calls := 0
		err := Do(context.Background(), fast, func(_ context.Context, attempt int) error {
			calls++
			if attempt < 2 {
				return boom
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 2, calls)
	})

	t.Run("ExhaustsAttempts", func(t *testing.T) {
		calls := 0
		err := Do(context.Background(), fast, func(context.Context, int) error {
			calls++
			return boom
		})
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, 3, calls)
	})

	t.Run("PermanentStopsImmediately", func(t *testing.T) {
		calls := 0
		err := Do(context.Background(), fast, func(context.Context, int) error {
			calls++
			return Permanent(boom)
		})
		assert.Same(t, boom, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("ContextCancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		err := Do(ctx, Policy{MaxAttempts: 5, InitialDelay: time.Hour}, func(context.Context, int) error {
			cancel()
			return boom
		})
		assert.ErrorIs(t, err, boom)
		assert.ErrorIs(t, err, context.Canceled)
	})
}
