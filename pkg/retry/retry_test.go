package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDo_SucceedsWithoutRetryingOnFirstSuccess(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), FixedPolicy(3, time.Millisecond), func(ctx context.Context) error {
		attempts++
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, attempts)
}

func TestDo_ExhaustsAttemptsAndReturnsLastError(t *testing.T) {
	attempts := 0
	wantErr := errors.New("boom")
	err := Do(context.Background(), FixedPolicy(3, time.Millisecond), func(ctx context.Context) error {
		attempts++
		return wantErr
	})
	require.ErrorIs(t, err, wantErr)
	require.Equal(t, 3, attempts)
}

func TestDo_StopsWhenParentContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempts := 0
	err := Do(ctx, FixedPolicy(5, time.Millisecond), func(ctx context.Context) error {
		attempts++
		return errors.New("boom")
	})
	require.Error(t, err)
	require.Equal(t, 1, attempts)
}

func TestExponentialPolicy_DelayGrowsAndCapsAtMax(t *testing.T) {
	p := ExponentialPolicy(5, 10*time.Millisecond, 40*time.Millisecond)
	p.Jitter = false
	require.Equal(t, 10*time.Millisecond, p.delayFor(0))
	require.Equal(t, 20*time.Millisecond, p.delayFor(1))
	require.Equal(t, 40*time.Millisecond, p.delayFor(2))
	require.Equal(t, 40*time.Millisecond, p.delayFor(3))
}

func TestWithTimeout_PropagatesDeadlineExceeded(t *testing.T) {
	err := WithTimeout(context.Background(), 5*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
