package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock advances its own time whenever the loop waits, so poll
// sequences run instantly in tests.
type fakeClock struct {
	now       time.Time
	intervals []time.Duration
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.intervals = append(c.intervals, d)
	c.now = c.now.Add(d)
	ch := make(chan time.Time, 1)
	ch <- c.now
	return ch
}

func testPolicy(clock Clock) Policy {
	return Policy{
		Timeout:      5 * time.Second,
		PollInterval: 1 * time.Second,
		Clock:        clock,
	}
}

func TestDoResolvesAfterPending(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}

	attempts := 0
	got, err := Do(context.Background(), testPolicy(clock), func(ctx context.Context) Result[string] {
		attempts++
		if attempts < 3 {
			return Pending[string]()
		}
		return Done("finished")
	})

	require.NoError(t, err)
	assert.Equal(t, "finished", got)
	assert.Equal(t, 3, attempts)
}

func TestDoTimesOut(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}

	attempts := 0
	_, err := Do(context.Background(), testPolicy(clock), func(ctx context.Context) Result[string] {
		attempts++
		return Pending[string]()
	})

	var timeout *TimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.Equal(t, 5*time.Second, timeout.After)
	assert.Equal(t, attempts, timeout.Attempts)
	assert.GreaterOrEqual(t, attempts, 5)
}

func TestDoWaitsOutFullTimeout(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	policy := Policy{
		Timeout:      5 * time.Second,
		PollInterval: 2 * time.Second,
		Clock:        clock,
	}

	start := clock.now
	attempts := 0
	_, err := Do(context.Background(), policy, func(ctx context.Context) Result[int] {
		attempts++
		return Pending[int]()
	})

	var timeout *TimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.Equal(t, 5*time.Second, clock.now.Sub(start), "loop must not give up before the deadline")
	assert.Equal(t, 5*time.Second, timeout.After)
	assert.Equal(t, attempts, timeout.Attempts)
	// The final wait is clamped to the remaining time so the last
	// probe lands exactly on the deadline.
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second, 1 * time.Second}, clock.intervals)
}

func TestDoFailureNeverRetried(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	boom := errors.New("cluster exploded")

	attempts := 0
	_, err := Do(context.Background(), testPolicy(clock), func(ctx context.Context) Result[int] {
		attempts++
		return Failed[int](boom)
	})

	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, attempts, "definitive failure must not be retried")
	assert.Empty(t, clock.intervals, "no wait should happen after failure")
}

func TestDoImmediateSuccess(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}

	got, err := Do(context.Background(), testPolicy(clock), func(ctx context.Context) Result[int] {
		return Done(42)
	})

	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.Empty(t, clock.intervals)
}

func TestDoContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	policy := Policy{
		Timeout:      time.Minute,
		PollInterval: 50 * time.Millisecond,
	}
	attempts := 0
	_, err := Do(ctx, policy, func(ctx context.Context) Result[int] {
		attempts++
		cancel()
		return Pending[int]()
	})

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
}

func TestJitterBoundsInterval(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	policy := Policy{
		Timeout:      time.Hour,
		PollInterval: 100 * time.Millisecond,
		Jitter:       0.5,
		Clock:        clock,
	}

	attempts := 0
	_, err := Do(context.Background(), policy, func(ctx context.Context) Result[int] {
		attempts++
		if attempts < 10 {
			return Pending[int]()
		}
		return Done(0)
	})
	require.NoError(t, err)

	require.Len(t, clock.intervals, 9)
	for _, d := range clock.intervals {
		assert.GreaterOrEqual(t, d, 100*time.Millisecond)
		assert.Less(t, d, 150*time.Millisecond)
	}
}

func TestJitterWithTinyInterval(t *testing.T) {
	// The jitter range truncates to zero below a few microseconds;
	// the interval must fall back to the base spacing, not panic.
	policy := Policy{PollInterval: time.Nanosecond, Jitter: 0.5}
	assert.Equal(t, time.Nanosecond, policy.interval())

	clock := &fakeClock{now: time.Unix(1000, 0)}
	policy.Timeout = time.Second
	policy.Clock = clock

	attempts := 0
	got, err := Do(context.Background(), policy, func(ctx context.Context) Result[int] {
		attempts++
		if attempts < 3 {
			return Pending[int]()
		}
		return Done(7)
	})
	require.NoError(t, err)
	assert.Equal(t, 7, got)
}

func TestTimeoutErrorMessage(t *testing.T) {
	err := &TimeoutError{After: 30 * time.Second, Attempts: 7}
	assert.Equal(t, "timed out after 30s (7 attempts)", err.Error())
}
