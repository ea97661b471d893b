// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package ratelimit enforces the upstream request budget shared by every
// fetch worker: rolling per-minute and per-hour caps paced evenly across
// their windows, an optional minimum spacing between requests, and a backoff
// that grows while the upstream keeps answering 429.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/featurebasedb/parcelsync/logger"
	"golang.org/x/time/rate"
)

// Config holds the request budget. Zero caps disable the matching window.
//
// Requests are spaced by the largest of MinInterval, a minute divided by
// PerMinute and an hour divided by PerHour, so N requests hold the budget
// for N/PerMinute minutes rather than bursting a full window at once.
type Config struct {
	PerMinute int
	PerHour   int
	// MinInterval is a floor on the spacing of consecutive requests.
	MinInterval time.Duration
	// BackoffMultiplier grows the throttle wait on each consecutive 429.
	BackoffMultiplier float64
	// BaseBackoff is the first throttle wait when the server sends no
	// Retry-After.
	BaseBackoff time.Duration
	// MaxBackoff caps the multiplied wait. A larger Retry-After is still
	// honored.
	MaxBackoff time.Duration
}

// DefaultConfig returns the budget used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		PerMinute:         60,
		PerHour:           3000,
		BackoffMultiplier: 2,
		BaseBackoff:       time.Second,
		MaxBackoff:        5 * time.Minute,
	}
}

// Stats summarizes limiter activity.
type Stats struct {
	Acquired  int64
	Throttles int64
	Waited    time.Duration
}

// Limiter is safe for concurrent use. Acquisitions are serialized: callers
// queue on a single ticket and are served in arrival order.
type Limiter struct {
	cfg    Config
	clock  Clock
	log    logger.Logger
	ticket chan struct{}

	mu             sync.Mutex
	minute         []time.Time
	hour           []time.Time
	throttledUntil time.Time
	backoff        time.Duration
	spacing        *rate.Limiter
	stats          Stats
}

// Option configures a Limiter.
type Option func(*Limiter)

// OptClock sets the clock, for tests.
func OptClock(c Clock) Option {
	return func(l *Limiter) { l.clock = c }
}

// OptLogger sets the logger.
func OptLogger(log logger.Logger) Option {
	return func(l *Limiter) { l.log = log }
}

// New returns a Limiter enforcing cfg.
func New(cfg Config, opts ...Option) *Limiter {
	if cfg.BackoffMultiplier < 1 {
		cfg.BackoffMultiplier = 2
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = time.Second
	}
	l := &Limiter{
		cfg:    cfg,
		clock:  SystemClock,
		log:    logger.NopLogger,
		ticket: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(l)
	}
	if every := pacing(cfg); every > 0 {
		l.spacing = rate.NewLimiter(rate.Every(every), 1)
	}
	return l
}

// pacing returns the spacing between consecutive requests under cfg.
func pacing(cfg Config) time.Duration {
	every := cfg.MinInterval
	if cfg.PerMinute > 0 {
		if d := time.Minute / time.Duration(cfg.PerMinute); d > every {
			every = d
		}
	}
	if cfg.PerHour > 0 {
		if d := time.Hour / time.Duration(cfg.PerHour); d > every {
			every = d
		}
	}
	return every
}

// Acquire blocks until a request may be issued within budget, or until ctx
// is done.
func (l *Limiter) Acquire(ctx context.Context) error {
	select {
	case l.ticket <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-l.ticket }()

	for {
		wait := l.reserve()
		if wait <= 0 {
			return nil
		}
		l.log.Debugf("rate limit: waiting %s", wait)
		if err := l.clock.Sleep(ctx, wait); err != nil {
			return err
		}
		l.mu.Lock()
		l.stats.Waited += wait
		l.mu.Unlock()
	}
}

// reserve records a request and returns 0 if one may be issued now, or
// returns how long to wait before asking again.
func (l *Limiter) reserve() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	l.minute = prune(l.minute, now.Add(-time.Minute))
	l.hour = prune(l.hour, now.Add(-time.Hour))

	var wait time.Duration
	if d := l.throttledUntil.Sub(now); d > wait {
		wait = d
	}
	if d := windowWait(l.minute, l.cfg.PerMinute, time.Minute, now); d > wait {
		wait = d
	}
	if d := windowWait(l.hour, l.cfg.PerHour, time.Hour, now); d > wait {
		wait = d
	}
	if wait > 0 {
		return wait
	}

	if l.spacing != nil {
		r := l.spacing.ReserveN(now, 1)
		if d := r.DelayFrom(now); d > 0 {
			r.CancelAt(now)
			return d
		}
	}

	l.minute = append(l.minute, now)
	l.hour = append(l.hour, now)
	l.stats.Acquired++
	return 0
}

// windowWait returns how long until a window of length span holding times
// has room for one more request under limit.
func windowWait(times []time.Time, limit int, span time.Duration, now time.Time) time.Duration {
	if limit <= 0 || len(times) < limit {
		return 0
	}
	oldest := times[len(times)-limit]
	return oldest.Add(span).Sub(now)
}

// prune drops timestamps at or before cutoff. times is sorted.
func prune(times []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(times) && !times[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return times
	}
	return append(times[:0], times[i:]...)
}

// Throttle reports an upstream throttle signal. The next wait is the
// previous throttle wait times the multiplier (BaseBackoff the first time),
// capped at MaxBackoff, or retryAfter if that is longer. No Acquire returns
// before the wait has elapsed. Throttle returns the wait.
func (l *Limiter) Throttle(retryAfter time.Duration) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	next := l.cfg.BaseBackoff
	if l.backoff > 0 {
		next = time.Duration(float64(l.backoff) * l.cfg.BackoffMultiplier)
	}
	if l.cfg.MaxBackoff > 0 && next > l.cfg.MaxBackoff {
		next = l.cfg.MaxBackoff
	}
	if retryAfter > next {
		next = retryAfter
	}
	l.backoff = next
	if until := l.clock.Now().Add(next); until.After(l.throttledUntil) {
		l.throttledUntil = until
	}
	l.stats.Throttles++
	l.log.Warnf("upstream throttled: backing off %s (retry-after %s)", next, retryAfter)
	return next
}

// Success clears the throttle backoff after a request the upstream
// accepted. A pending throttle deadline still applies.
func (l *Limiter) Success() {
	l.mu.Lock()
	l.backoff = 0
	l.mu.Unlock()
}

// Stats returns a snapshot of limiter activity.
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats
}
