package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastStrategy(attempts int) Strategy {
	return Strategy{Attempts: attempts, Delay: time.Millisecond, Backoff: 1}
}

func TestDoSucceedsFirstTry(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastStrategy(3), func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastStrategy(3), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoReturnsLastErrorWhenExhausted(t *testing.T) {
	calls := 0
	last := errors.New("still failing")
	err := Do(context.Background(), fastStrategy(3), func() error {
		calls++
		return last
	})
	assert.Equal(t, last, err)
	assert.Equal(t, 3, calls)
}

func TestDoStopsOnPermanentError(t *testing.T) {
	calls := 0
	inner := errors.New("bad payload")
	err := Do(context.Background(), fastStrategy(5), func() error {
		calls++
		return Permanent(inner)
	})
	assert.Equal(t, inner, err, "permanent error is unwrapped")
	assert.Equal(t, 1, calls)
}

func TestPermanentPreservesErrorChain(t *testing.T) {
	sentinel := errors.New("sentinel")
	wrapped := Permanent(sentinel)
	assert.ErrorIs(t, wrapped, sentinel)
	assert.Nil(t, Permanent(nil))
}

func TestDoHonoursContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	err := Do(ctx, Strategy{Attempts: 5, Delay: time.Hour, Backoff: 1}, func() error {
		calls++
		cancel()
		return errors.New("transient")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}
