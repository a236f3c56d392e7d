// Package ratelimit provides per-key request limiters: an in-memory fixed
// window, a token bucket, and a Redis-backed fixed window for deployments
// with more than one instance.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Decision is the outcome of a single Allow call.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAfter time.Duration
}

// Limiter decides whether the request identified by key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

type window struct {
	count   int
	resetAt time.Time
}

// FixedWindow allows limit hits per key per window, counted in memory.
type FixedWindow struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	windows map[string]*window
	now     func() time.Time
}

// NewFixedWindow creates a FixedWindow limiter.
func NewFixedWindow(limit int, w time.Duration) *FixedWindow {
	return &FixedWindow{
		limit:   limit,
		window:  w,
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

// Allow counts a hit for key.
func (f *FixedWindow) Allow(_ context.Context, key string) (Decision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.now()
	w, ok := f.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &window{resetAt: now.Add(f.window)}
		f.windows[key] = w
	}
	w.count++

	return decide(f.limit, w.count, w.resetAt.Sub(now)), nil
}

// Sweep drops windows that have expired.
func (f *FixedWindow) Sweep() {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.now()
	for k, w := range f.windows {
		if !now.Before(w.resetAt) {
			delete(f.windows, k)
		}
	}
}

// Sweeper is an in-memory limiter that drops stale keys on demand.
type Sweeper interface {
	Sweep()
}

// RunSweeper calls s.Sweep every interval until ctx is done.
func RunSweeper(ctx context.Context, s Sweeper, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

func decide(limit, count int, resetAfter time.Duration) Decision {
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:    count <= limit,
		Limit:      limit,
		Remaining:  remaining,
		ResetAfter: resetAfter,
	}
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// TokenBucket refills limit tokens per window per key with a burst of limit.
type TokenBucket struct {
	mu      sync.Mutex
	limit   int
	every   rate.Limit
	buckets map[string]*bucket
	idle    time.Duration
	now     func() time.Time
}

// NewTokenBucket creates a TokenBucket limiter.
func NewTokenBucket(limit int, w time.Duration) *TokenBucket {
	return &TokenBucket{
		limit:   limit,
		every:   rate.Every(w / time.Duration(limit)),
		buckets: make(map[string]*bucket),
		idle:    w,
		now:     time.Now,
	}
}

// Allow takes one token from key's bucket.
func (t *TokenBucket) Allow(_ context.Context, key string) (Decision, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	b, ok := t.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(t.every, t.limit)}
		t.buckets[key] = b
	}
	b.lastSeen = now

	allowed := b.limiter.AllowN(now, 1)
	tokens := b.limiter.TokensAt(now)

	d := Decision{
		Allowed:   allowed,
		Limit:     t.limit,
		Remaining: int(tokens),
	}
	if d.Remaining < 0 {
		d.Remaining = 0
	}
	if tokens < 1 {
		d.ResetAfter = time.Duration((1 - tokens) / float64(t.every) * float64(time.Second))
	}
	return d, nil
}

// Sweep drops buckets idle for longer than a full refill.
func (t *TokenBucket) Sweep() {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	for k, b := range t.buckets {
		if now.Sub(b.lastSeen) > t.idle {
			delete(t.buckets, k)
		}
	}
}

// WindowCounter increments a counter that expires after window and returns
// the new count with the time left until it expires.
type WindowCounter interface {
	IncrWindow(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
}

// RedisFixedWindow is a fixed window whose counters live in a shared store.
type RedisFixedWindow struct {
	counter WindowCounter
	prefix  string
	limit   int
	window  time.Duration
}

// NewRedisFixedWindow creates a RedisFixedWindow. prefix namespaces the keys
// so several limiters can share one store.
func NewRedisFixedWindow(counter WindowCounter, prefix string, limit int, w time.Duration) *RedisFixedWindow {
	return &RedisFixedWindow{counter: counter, prefix: prefix, limit: limit, window: w}
}

// Allow counts a hit for key.
func (r *RedisFixedWindow) Allow(ctx context.Context, key string) (Decision, error) {
	count, ttl, err := r.counter.IncrWindow(ctx, fmt.Sprintf("ratelimit:%s:%s", r.prefix, key), r.window)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to count request: %w", err)
	}
	return decide(r.limit, int(count), ttl), nil
}
