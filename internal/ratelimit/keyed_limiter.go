package ratelimit

import (
	"sync"
	"time"
)

// KeyedLimiter manages one token bucket per arbitrary string key (a handler
// name, a hook type, a webhook URL), for domains where the limited resource
// isn't a user or API key.
type KeyedLimiter struct {
	mu         sync.RWMutex
	buckets    map[string]*TokenBucket
	capacity   float64
	refillRate float64

	cleanupInterval time.Duration
	stopCleanup     chan struct{}
}

// NewKeyedLimiter builds a limiter where every key gets its own bucket of
// the given capacity (burst size) and refillRate (sustained rate per
// second).
func NewKeyedLimiter(capacity, refillRate float64) *KeyedLimiter {
	l := &KeyedLimiter{
		buckets:         make(map[string]*TokenBucket),
		capacity:        capacity,
		refillRate:      refillRate,
		cleanupInterval: 5 * time.Minute,
		stopCleanup:     make(chan struct{}),
	}
	go l.cleanupLoop()
	return l
}

// Allow reports whether a call under key may proceed, consuming one token
// if so.
func (l *KeyedLimiter) Allow(key string) bool {
	return l.bucket(key).Allow()
}

// Remaining returns the tokens currently available for key.
func (l *KeyedLimiter) Remaining(key string) float64 {
	return l.bucket(key).Remaining()
}

// Reset restores key's bucket to full capacity.
func (l *KeyedLimiter) Reset(key string) {
	l.bucket(key).Reset()
}

// Close stops the background cleanup loop.
func (l *KeyedLimiter) Close() {
	close(l.stopCleanup)
}

func (l *KeyedLimiter) bucket(key string) *TokenBucket {
	l.mu.RLock()
	b, ok := l.buckets[key]
	l.mu.RUnlock()
	if ok {
		return b
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok = l.buckets[key]; ok {
		return b
	}
	b = NewTokenBucket(l.capacity, l.refillRate)
	l.buckets[key] = b
	return b
}

func (l *KeyedLimiter) cleanupLoop() {
	ticker := time.NewTicker(l.cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.cleanup()
		case <-l.stopCleanup:
			return
		}
	}
}

func (l *KeyedLimiter) cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, b := range l.buckets {
		if b.Remaining() >= l.capacity*0.95 {
			delete(l.buckets, key)
		}
	}
}
