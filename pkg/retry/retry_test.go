package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errFlaky = errors.New("flaky")

func fastPolicy() Policy {
	return Policy{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 4 * time.Millisecond}
}

func transient(err error) bool { return errors.Is(err, errFlaky) }

func TestDo_RecoversFromTransientFailure(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(), transient, func() error {
		calls++
		if calls < 3 {
			return errFlaky
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_PermanentErrorReturnsImmediately(t *testing.T) {
	permanent := errors.New("bad credentials")
	calls := 0
	err := Do(context.Background(), fastPolicy(), transient, func() error {
		calls++
		return permanent
	})
	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(), transient, func() error {
		calls++
		return errFlaky
	})
	assert.ErrorIs(t, err, errFlaky)
	assert.Equal(t, 3, calls)
}

func TestDo_HonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Do(ctx, Policy{MaxAttempts: 5, InitialBackoff: time.Second, MaxBackoff: time.Second}, transient, func() error {
		return errFlaky
	})
	assert.ErrorIs(t, err, context.Canceled)
}
