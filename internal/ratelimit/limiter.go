// Package ratelimit implements per-operation-class admission control: a
// token bucket augmented with a daily cap, a concurrent-invocation cap and
// exponential backoff hints on repeated denial.
//
// The limiter is a pure state machine: it never blocks, never sleeps and
// performs no I/O. Callers that want to wait out a denial layer a sleep
// outside the limiter using the advertised wait time.
package ratelimit

import (
	"math/rand/v2"
	"sync"
	"time"

	"netdiag-mcp/internal/clock"
	"netdiag-mcp/internal/types"
)

// Admission is the outcome of a single checkAndConsume evaluation.
type Admission struct {
	Allowed                bool
	RemainingTokens        int
	WaitTime               time.Duration
	DailyRequestsRemaining int
	Reason                 string
}

// Status is a non-mutating snapshot of one bucket.
type Status struct {
	TokensRemaining        int
	DailyRequestsRemaining int
	ConcurrentRequests     int
	NextTokenRefill        time.Duration
	DailyReset             time.Duration
}

// bucket holds the mutable state of one operation class. All fields are
// guarded by mu; critical sections are O(1).
type bucket struct {
	mu sync.Mutex

	cfg BucketConfig

	tokens     int
	lastRefill time.Time // monotonic refill anchor, advances in whole intervals
	dailyCount int
	dailyReset time.Time // wall-clock next local-midnight boundary
	concurrent int

	failures    int // consecutive denials, reset on any successful admission
	lastFailure time.Time
}

// Limiter admits tool invocations per operation class.
type Limiter struct {
	clk     clock.Clock
	backoff BackoffConfig
	randFn  func() float64
	buckets map[Class]*bucket
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock injects a time source. Tests use a manually advanced fake.
func WithClock(c clock.Clock) Option {
	return func(l *Limiter) { l.clk = c }
}

// WithRand injects the uniform source used for backoff jitter.
func WithRand(fn func() float64) Option {
	return func(l *Limiter) { l.randFn = fn }
}

// New builds a limiter with one bucket per class in configs. Classes absent
// from configs get compiled-in defaults, so every recognized class always
// has a bucket. Buckets start full.
func New(configs map[Class]BucketConfig, backoff BackoffConfig, opts ...Option) *Limiter {
	l := &Limiter{
		clk:     clock.Real(),
		backoff: sanitizeBackoff(backoff),
		randFn:  rand.Float64,
		buckets: make(map[Class]*bucket, len(Classes())),
	}
	for _, opt := range opts {
		opt(l)
	}

	defaults := DefaultConfigs()
	now := l.clk.Now()
	for _, class := range Classes() {
		cfg, ok := configs[class]
		if !ok {
			cfg = defaults[class]
		}
		cfg = sanitizeBucket(class, cfg, defaults[class])
		l.buckets[class] = &bucket{
			cfg:        cfg,
			tokens:     cfg.MaxBucketSize,
			lastRefill: now,
			dailyReset: clock.NextLocalMidnight(now),
		}
	}
	return l
}

func (l *Limiter) bucketFor(op Class) (*bucket, error) {
	b, ok := l.buckets[op]
	if !ok {
		return nil, &types.InvalidOperationError{Operation: string(op)}
	}
	return b, nil
}

// refill adds whole-interval token batches and advances the anchor by the
// same whole number of intervals. Advancing the anchor fractionally would
// accumulate drift.
func (b *bucket) refill(now time.Time) {
	elapsed := now.Sub(b.lastRefill)
	if elapsed < b.cfg.Interval {
		return
	}
	k := int64(elapsed / b.cfg.Interval)

	if room := b.cfg.MaxBucketSize - b.tokens; room > 0 {
		added := room
		// k*TokensPerInterval can overflow after long idle stretches, so
		// only multiply when the product cannot exceed room.
		if k < int64(room) {
			if v := int(k) * b.cfg.TokensPerInterval; v < room {
				added = v
			}
		}
		b.tokens += added
	}
	b.lastRefill = b.lastRefill.Add(time.Duration(k) * b.cfg.Interval)
}

// resetDailyIfDue zeroes the daily counter once per elapsed boundary.
func (b *bucket) resetDailyIfDue(now time.Time) {
	if now.Before(b.dailyReset) {
		return
	}
	b.dailyCount = 0
	b.dailyReset = clock.NextLocalMidnight(now)
}

// admit evaluates the three gates in order: concurrent, daily, token. The
// first denying gate fixes the reason; the ordering is observable and
// reports the nearest-resolving cause first. Caller holds b.mu.
func (b *bucket) admit(now time.Time) Admission {
	b.refill(now)
	b.resetDailyIfDue(now)

	dailyRemaining := b.cfg.MaxDailyRequests - b.dailyCount
	if dailyRemaining < 0 {
		dailyRemaining = 0
	}

	if b.concurrent >= b.cfg.MaxConcurrentRequests {
		return Admission{
			RemainingTokens:        b.tokens,
			WaitTime:               b.cfg.ConcurrentLimitWait,
			DailyRequestsRemaining: dailyRemaining,
			Reason:                 ReasonConcurrentLimit,
		}
	}
	if b.dailyCount >= b.cfg.MaxDailyRequests {
		return Admission{
			RemainingTokens:        b.tokens,
			WaitTime:               b.dailyReset.Sub(now),
			DailyRequestsRemaining: 0,
			Reason:                 ReasonDailyLimit,
		}
	}
	if b.tokens < 1 {
		return Admission{
			RemainingTokens:        0,
			WaitTime:               b.nextRefillIn(now),
			DailyRequestsRemaining: dailyRemaining,
			Reason:                 ReasonTokenBucket,
		}
	}

	b.tokens--
	b.dailyCount++
	b.failures = 0
	return Admission{
		Allowed:                true,
		RemainingTokens:        b.tokens,
		DailyRequestsRemaining: b.cfg.MaxDailyRequests - b.dailyCount,
	}
}

// nextRefillIn is the time until the next token batch lands.
func (b *bucket) nextRefillIn(now time.Time) time.Duration {
	return b.cfg.Interval - now.Sub(b.lastRefill)%b.cfg.Interval
}

// CheckAndConsume atomically refills stale tokens, resets the daily count
// if past the boundary, evaluates the gates and on success consumes one
// token. It does not touch the concurrency count; Acquire does.
func (l *Limiter) CheckAndConsume(op Class) (Admission, error) {
	b, err := l.bucketFor(op)
	if err != nil {
		return Admission{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.admit(l.clk.Now()), nil
}

// Acquire admits an invocation and claims a concurrency slot. On denial it
// advances the backoff state and returns a RateLimitError whose wait time
// is the larger of the admission wait and the current backoff delay. Every
// successful Acquire must be paired with exactly one Release.
func (l *Limiter) Acquire(op Class) error {
	b, err := l.bucketFor(op)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	now := l.clk.Now()
	adm := b.admit(now)
	if adm.Allowed {
		b.concurrent++
		return nil
	}

	delay := l.delay(b.failures)
	b.failures++
	b.lastFailure = now

	wait := adm.WaitTime
	if delay > wait {
		wait = delay
	}
	return &types.RateLimitError{
		Operation: string(op),
		Reason:    adm.Reason,
		WaitTime:  wait,
	}
}

// Release returns a concurrency slot. The count clamps at zero so an
// unmatched release cannot corrupt the conserved quantity.
func (l *Limiter) Release(op Class) {
	b, err := l.bucketFor(op)
	if err != nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.concurrent > 0 {
		b.concurrent--
	}
}

// Status returns a snapshot without mutating the bucket: refill and daily
// reset are computed virtually against the current time.
func (l *Limiter) Status(op Class) (Status, error) {
	b, err := l.bucketFor(op)
	if err != nil {
		return Status{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	now := l.clk.Now()

	tokens := b.tokens
	if elapsed := now.Sub(b.lastRefill); elapsed >= b.cfg.Interval {
		k := int64(elapsed / b.cfg.Interval)
		if room := b.cfg.MaxBucketSize - tokens; room > 0 {
			added := room
			if k < int64(room) {
				if v := int(k) * b.cfg.TokensPerInterval; v < room {
					added = v
				}
			}
			tokens += added
		}
	}

	dailyCount := b.dailyCount
	dailyReset := b.dailyReset
	if !now.Before(dailyReset) {
		dailyCount = 0
		dailyReset = clock.NextLocalMidnight(now)
	}

	return Status{
		TokensRemaining:        tokens,
		DailyRequestsRemaining: b.cfg.MaxDailyRequests - dailyCount,
		ConcurrentRequests:     b.concurrent,
		NextTokenRefill:        b.nextRefillIn(now),
		DailyReset:             dailyReset.Sub(now),
	}, nil
}

// Reset reinitializes one bucket to its starting state.
func (l *Limiter) Reset(op Class) error {
	b, err := l.bucketFor(op)
	if err != nil {
		return err
	}
	now := l.clk.Now()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tokens = b.cfg.MaxBucketSize
	b.lastRefill = now
	b.dailyCount = 0
	b.dailyReset = clock.NextLocalMidnight(now)
	b.concurrent = 0
	b.failures = 0
	b.lastFailure = time.Time{}
	return nil
}

// ResetAll reinitializes every bucket.
func (l *Limiter) ResetAll() {
	for _, class := range Classes() {
		l.Reset(class)
	}
}
