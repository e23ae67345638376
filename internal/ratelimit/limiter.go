package ratelimit

import (
	"sync"
	"time"
)

// Limiter applies per-client token buckets keyed by an opaque client id
// (the relay keys on remote address). Buckets idle for longer than the
// cleanup window are dropped to bound memory.
type Limiter struct {
	capacity   float64
	refillRate float64

	mu      sync.Mutex
	buckets map[string]*clientBucket
	stop    chan struct{}
	once    sync.Once
}

type clientBucket struct {
	bucket   *TokenBucket
	lastSeen time.Time
}

// NewLimiter creates a limiter allowing refillRate requests/second sustained
// with bursts up to capacity per client.
func NewLimiter(capacity, refillRate float64) *Limiter {
	if capacity <= 0 {
		capacity = 20
	}
	if refillRate <= 0 {
		refillRate = 10
	}
	l := &Limiter{
		capacity:   capacity,
		refillRate: refillRate,
		buckets:    make(map[string]*clientBucket),
		stop:       make(chan struct{}),
	}
	go l.cleanupLoop(5 * time.Minute)
	return l
}

// Allow reports whether a request from the client should be admitted.
// Unknown clients start with a full bucket.
func (l *Limiter) Allow(clientID string) bool {
	if clientID == "" {
		return true
	}
	l.mu.Lock()
	cb, ok := l.buckets[clientID]
	if !ok {
		cb = &clientBucket{bucket: NewTokenBucket(l.capacity, l.refillRate)}
		l.buckets[clientID] = cb
	}
	cb.lastSeen = time.Now()
	l.mu.Unlock()
	return cb.bucket.Allow()
}

// Close stops the background cleanup loop.
func (l *Limiter) Close() {
	l.once.Do(func() { close(l.stop) })
}

func (l *Limiter) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-interval)
			l.mu.Lock()
			for id, cb := range l.buckets {
				if cb.lastSeen.Before(cutoff) {
					delete(l.buckets, id)
				}
			}
			l.mu.Unlock()
		}
	}
}
