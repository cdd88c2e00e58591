// Package ratelimit implements per-identifier token bucket admission control.
//
// Buckets refill lazily from wall-clock deltas; no per-bucket timers exist.
// A single sweep goroutine, owned by the Limiter, evicts idle buckets to
// bound memory. The Limiter is constructed once at process start and passed
// around as a handle.
package ratelimit

import (
	"math"
	"sync"
	"time"

	"parley/internal/metrics"
)

// Class identifies a protected operation class. Buckets are keyed per
// (class, identifier) so exhausting one class never starves another.
type Class string

const (
	// ClassExchange guards invite token exchange (tight).
	ClassExchange Class = "exchange"
	// ClassAdminRead guards general admin reads (loose).
	ClassAdminRead Class = "admin_read"
	// ClassBulk guards bulk/export operations (tight).
	ClassBulk Class = "bulk"
)

// ClassConfig is one capacity/window pair.
type ClassConfig struct {
	Capacity int
	Window   time.Duration
}

// DefaultClasses returns the standard class table.
func DefaultClasses() map[Class]ClassConfig {
	return map[Class]ClassConfig{
		ClassExchange:  {Capacity: 5, Window: 15 * time.Minute},
		ClassAdminRead: {Capacity: 60, Window: time.Minute},
		ClassBulk:      {Capacity: 10, Window: time.Minute},
	}
}

// Decision reports an admission check outcome.
// On deny, Remaining is 0 and ResetAt tells the caller when to retry.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

type bucketKey struct {
	class Class
	id    string
}

type bucket struct {
	tokens   float64
	last     time.Time
	lastSeen time.Time
}

// Limiter holds all buckets across classes.
type Limiter struct {
	classes map[Class]ClassConfig

	mu      sync.Mutex
	buckets map[bucketKey]*bucket

	sweepEvery time.Duration
	idleFactor int

	done     chan struct{}
	stopOnce sync.Once
}

// Option configures the Limiter.
type Option func(*Limiter)

// WithSweepInterval overrides how often the idle sweep runs.
func WithSweepInterval(d time.Duration) Option {
	return func(l *Limiter) {
		if d > 0 {
			l.sweepEvery = d
		}
	}
}

// New constructs a Limiter for the given class table.
// Nil classes fall back to DefaultClasses.
func New(classes map[Class]ClassConfig, opts ...Option) *Limiter {
	if len(classes) == 0 {
		classes = DefaultClasses()
	}
	l := &Limiter{
		classes:    classes,
		buckets:    make(map[bucketKey]*bucket),
		sweepEvery: time.Minute,
		idleFactor: 3,
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(l)
	}
	return l
}

// Check refills the (class, id) bucket from the elapsed wall-clock time and
// attempts to consume one token. It never fails; unknown classes allow.
func (l *Limiter) Check(class Class, id string, now time.Time) Decision {
	cfg, ok := l.classes[class]
	if !ok || cfg.Capacity <= 0 || cfg.Window <= 0 {
		return Decision{Allowed: true, Remaining: 1, ResetAt: now}
	}
	if id == "" {
		id = "unknown"
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	key := bucketKey{class: class, id: id}
	b := l.buckets[key]
	if b == nil {
		b = &bucket{tokens: float64(cfg.Capacity), last: now}
		l.buckets[key] = b
	}

	// Lazy refill: tokens = min(capacity, tokens + elapsed/window * capacity).
	// The ratio is computed first so a full window restores capacity exactly.
	if elapsed := now.Sub(b.last); elapsed > 0 {
		ratio := float64(elapsed) / float64(cfg.Window)
		b.tokens = math.Min(float64(cfg.Capacity), b.tokens+ratio*float64(cfg.Capacity))
		b.last = now
	}
	b.lastSeen = now

	perToken := cfg.Window / time.Duration(cfg.Capacity)

	if b.tokens >= 1.0 {
		b.tokens -= 1.0
		resetAt := now
		if b.tokens < 1.0 {
			resetAt = now.Add(durationForTokens(1.0-b.tokens, perToken))
		}
		return Decision{
			Allowed:   true,
			Limit:     cfg.Capacity,
			Remaining: int(b.tokens + 1e-9),
			ResetAt:   resetAt,
		}
	}

	metrics.RateLimitDenied.WithLabelValues(string(class)).Inc()
	return Decision{
		Allowed:   false,
		Limit:     cfg.Capacity,
		Remaining: 0,
		ResetAt:   now.Add(durationForTokens(1.0-b.tokens, perToken)),
	}
}

func durationForTokens(missing float64, perToken time.Duration) time.Duration {
	if missing <= 0 {
		return 0
	}
	d := time.Duration(missing * float64(perToken))
	if d < time.Second {
		d = time.Second
	}
	return d
}

// StartSweeper launches the idle-bucket eviction loop.
// Buckets untouched for idleFactor refill windows are dropped.
func (l *Limiter) StartSweeper() {
	go func() {
		t := time.NewTicker(l.sweepEvery)
		defer t.Stop()
		for {
			select {
			case <-l.done:
				return
			case now := <-t.C:
				l.sweep(now)
			}
		}
	}()
}

// Stop terminates the sweep loop (idempotent).
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.done) })
}

func (l *Limiter) sweep(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for key, b := range l.buckets {
		cfg, ok := l.classes[key.class]
		if !ok {
			delete(l.buckets, key)
			continue
		}
		idle := cfg.Window * time.Duration(l.idleFactor)
		if now.Sub(b.lastSeen) > idle {
			delete(l.buckets, key)
		}
	}
}

// bucketCount is exposed for tests.
func (l *Limiter) bucketCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
