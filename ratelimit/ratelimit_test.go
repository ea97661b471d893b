package ratelimit_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/featurebasedb/parcelsync/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2022, 6, 1, 0, 0, 0, 0, time.UTC)

func newLimiter(cfg ratelimit.Config) (*ratelimit.Limiter, *ratelimit.FakeClock) {
	clock := ratelimit.NewFakeClock(epoch)
	return ratelimit.New(cfg, ratelimit.OptClock(clock)), clock
}

// acquireN acquires n times and returns the clock time of each acquisition.
func acquireN(t *testing.T, l *ratelimit.Limiter, clock *ratelimit.FakeClock, n int) []time.Time {
	t.Helper()
	times := make([]time.Time, n)
	for i := range times {
		require.NoError(t, l.Acquire(context.Background()))
		times[i] = clock.Now()
	}
	return times
}

// maxInWindow is the largest number of times falling in any half-open
// window of length span.
func maxInWindow(times []time.Time, span time.Duration) int {
	max := 0
	for i := range times {
		n := 0
		for j := i; j < len(times) && times[j].Sub(times[i]) < span; j++ {
			n++
		}
		if n > max {
			max = n
		}
	}
	return max
}

func TestLimiterPerMinute(t *testing.T) {
	const limit = 10
	interval := time.Minute / limit
	for i, n := range []int{5, 10, 11, 20, 25, 61} {
		t.Run(fmt.Sprintf("test-%d", i), func(t *testing.T) {
			l, clock := newLimiter(ratelimit.Config{PerMinute: limit})
			times := acquireN(t, l, clock, n)
			assert.LessOrEqual(t, maxInWindow(times, time.Minute), limit)

			// Request n is granted (n-1)/limit minutes in and holds its slot
			// until n/limit minutes, when the next one may go.
			granted := times[n-1].Sub(epoch)
			assert.GreaterOrEqual(t, granted, time.Duration(n-1)*interval)
			assert.Less(t, granted, time.Duration(n-1)*interval+time.Second)

			require.NoError(t, l.Acquire(context.Background()))
			assert.GreaterOrEqual(t, clock.Now().Sub(epoch), time.Duration(n)*interval)
		})
	}
}

func TestLimiterPacing(t *testing.T) {
	tests := []struct {
		cfg ratelimit.Config
		exp time.Duration
	}{
		{cfg: ratelimit.Config{PerMinute: 60}, exp: time.Second},
		{cfg: ratelimit.Config{PerMinute: 60, MinInterval: 5 * time.Second}, exp: 5 * time.Second},
		{cfg: ratelimit.Config{PerMinute: 60, PerHour: 60}, exp: time.Minute},
		{cfg: ratelimit.DefaultConfig(), exp: 1200 * time.Millisecond},
	}
	for i, test := range tests {
		t.Run(fmt.Sprintf("test-%d", i), func(t *testing.T) {
			l, clock := newLimiter(test.cfg)
			times := acquireN(t, l, clock, 4)
			for j := 1; j < len(times); j++ {
				assert.GreaterOrEqual(t, times[j].Sub(times[j-1]), test.exp)
				assert.Less(t, times[j].Sub(times[j-1]), test.exp+time.Millisecond)
			}
		})
	}
}

func TestLimiterPerHour(t *testing.T) {
	l, clock := newLimiter(ratelimit.Config{PerMinute: 100, PerHour: 150})
	times := acquireN(t, l, clock, 301)

	assert.LessOrEqual(t, maxInWindow(times, time.Minute), 100)
	assert.LessOrEqual(t, maxInWindow(times, time.Hour), 150)
	assert.GreaterOrEqual(t, clock.Now().Sub(epoch), 2*time.Hour)
}

func TestLimiterMinInterval(t *testing.T) {
	l, clock := newLimiter(ratelimit.Config{MinInterval: 2 * time.Second})
	times := acquireN(t, l, clock, 4)
	for i := 1; i < len(times); i++ {
		assert.GreaterOrEqual(t, times[i].Sub(times[i-1]), 2*time.Second)
	}
}

func TestLimiterThrottle(t *testing.T) {
	l, clock := newLimiter(ratelimit.DefaultConfig())

	require.NoError(t, l.Acquire(context.Background()))
	start := clock.Now()

	// 429 with Retry-After: 5
	wait := l.Throttle(5 * time.Second)
	assert.Equal(t, 5*time.Second, wait)
	require.NoError(t, l.Acquire(context.Background()))
	assert.GreaterOrEqual(t, clock.Now().Sub(start), 5*time.Second)

	// throttled again: the multiplier applies on top of the previous wait
	start = clock.Now()
	wait = l.Throttle(5 * time.Second)
	assert.Equal(t, 10*time.Second, wait)
	require.NoError(t, l.Acquire(context.Background()))
	assert.GreaterOrEqual(t, clock.Now().Sub(start), 10*time.Second)

	// a long Retry-After beats the multiplied wait
	assert.Equal(t, 90*time.Second, l.Throttle(90*time.Second))

	// success resets the backoff to the base
	l.Success()
	assert.Equal(t, time.Second, l.Throttle(0))

	stats := l.Stats()
	assert.Equal(t, int64(4), stats.Throttles)
	assert.Equal(t, int64(3), stats.Acquired)
}

func TestLimiterThrottleCapped(t *testing.T) {
	l, _ := newLimiter(ratelimit.Config{BackoffMultiplier: 3, BaseBackoff: time.Second, MaxBackoff: 5 * time.Second})
	assert.Equal(t, time.Second, l.Throttle(0))
	assert.Equal(t, 3*time.Second, l.Throttle(0))
	assert.Equal(t, 5*time.Second, l.Throttle(0))
	assert.Equal(t, 5*time.Second, l.Throttle(0))
}

func TestLimiterCancel(t *testing.T) {
	l, _ := newLimiter(ratelimit.Config{PerMinute: 1})
	require.NoError(t, l.Acquire(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, l.Acquire(ctx), context.Canceled)
}

func TestLimiterCancelWhileWaiting(t *testing.T) {
	l := ratelimit.New(ratelimit.Config{PerMinute: 1})
	require.NoError(t, l.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	assert.ErrorIs(t, l.Acquire(ctx), context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestLimiterConcurrent(t *testing.T) {
	l, clock := newLimiter(ratelimit.Config{PerMinute: 7})

	var mu sync.Mutex
	var times []time.Time
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				if err := l.Acquire(context.Background()); err != nil {
					t.Error(err)
					return
				}
				mu.Lock()
				times = append(times, clock.Now())
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, times, 40)
	assert.Equal(t, int64(40), l.Stats().Acquired)
}
