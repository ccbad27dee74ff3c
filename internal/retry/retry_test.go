package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingSleeper struct {
	waits []time.Duration
}

func (s *recordingSleeper) sleep(_ context.Context, d time.Duration) error {
	s.waits = append(s.waits, d)
	return nil
}

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	t.Parallel()

	sleeper := &recordingSleeper{}
	r := NewRunner(Policy{Attempts: 3, Delay: 5 * time.Second}, zap.NewNop(), WithSleep(sleeper.sleep))

	calls := 0
	got, err := Do(context.Background(), r, "test op", func(context.Context) Result[string] {
		calls++
		if calls < 3 {
			return Retryable[string](errors.New("transient error"))
		}
		return Succeed("ok")
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second}, sleeper.waits)
}

func TestDoReturnsLastErrorWhenExhausted(t *testing.T) {
	t.Parallel()

	sleeper := &recordingSleeper{}
	r := NewRunner(Policy{Attempts: 3, Delay: time.Second}, zap.NewNop(), WithSleep(sleeper.sleep))

	last := errors.New("attempt 3 failed")
	calls := 0
	got, err := Do(context.Background(), r, "test op", func(context.Context) Result[int] {
		calls++
		if calls == 3 {
			return Retryable[int](last)
		}
		return Retryable[int](errors.New("earlier failure"))
	})

	require.Error(t, err)
	assert.Zero(t, got)
	assert.Equal(t, 3, calls)
	assert.ErrorIs(t, err, ErrExhausted)
	assert.ErrorIs(t, err, last)
	assert.Len(t, sleeper.waits, 2, "no wait after the final attempt")
}

func TestDoStopsOnTerminalFailure(t *testing.T) {
	t.Parallel()

	r := NewRunner(Policy{Attempts: 5}, nil)
	fatal := errors.New("do not retry")
	calls := 0
	_, err := Do(context.Background(), r, "test op", func(context.Context) Result[int] {
		calls++
		return Terminal[int](fatal)
	})

	require.ErrorIs(t, err, fatal)
	assert.NotErrorIs(t, err, ErrExhausted)
	assert.Equal(t, 1, calls)
}

func TestDoHonoursCancellationBetweenAttempts(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	r := NewRunner(Policy{Attempts: 3, Delay: time.Hour}, nil)

	calls := 0
	_, err := Do(ctx, r, "test op", func(context.Context) Result[int] {
		calls++
		cancel()
		return Retryable[int](errors.New("boom"))
	})

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestNewRunnerClampsPolicy(t *testing.T) {
	t.Parallel()

	r := NewRunner(Policy{Attempts: 0, Delay: -time.Second}, nil)
	assert.Equal(t, Policy{Attempts: 1, Delay: 0}, r.Policy())
}

func TestStatusString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "success", StatusSuccess.String())
	assert.Equal(t, "retryable", StatusRetryable.String())
	assert.Equal(t, "terminal", StatusTerminal.String())
	assert.Equal(t, "unknown", Status(42).String())
}
