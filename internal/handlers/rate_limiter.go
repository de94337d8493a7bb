package handlers

import (
	"strings"
	"sync"
	"time"
)

type rateLimiter interface {
	Allow(key string) bool
}

// simpleRateLimiter is a fixed-window counter keyed by caller identity. It
// protects the checkout endpoint from runaway clients without needing shared
// state across instances.
type simpleRateLimiter struct {
	limit  int
	window time.Duration
	clock  func() time.Time

	mu      sync.Mutex
	buckets map[string]rateBucket
}

type rateBucket struct {
	hits     int
	resetsAt time.Time
}

func newSimpleRateLimiter(limit int, window time.Duration, clock func() time.Time) rateLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &simpleRateLimiter{
		limit:   limit,
		window:  window,
		clock:   clock,
		buckets: make(map[string]rateBucket),
	}
}

func (l *simpleRateLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = "anonymous"
	}

	now := l.clock()

	l.mu.Lock()
	defer l.mu.Unlock()

	bucket, ok := l.buckets[key]
	if !ok || now.After(bucket.resetsAt) {
		l.buckets[key] = rateBucket{hits: 1, resetsAt: now.Add(l.window)}
		l.pruneLocked(now)
		return true
	}

	if bucket.hits >= l.limit {
		return false
	}
	bucket.hits++
	l.buckets[key] = bucket
	return true
}

func (l *simpleRateLimiter) pruneLocked(now time.Time) {
	for key, bucket := range l.buckets {
		if now.After(bucket.resetsAt) {
			delete(l.buckets, key)
		}
	}
}
