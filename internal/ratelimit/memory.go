package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// MemoryBackend keeps limiter state in process. One mutex serializes the
// whole instance; idle entries expire from the caches.
type MemoryBackend struct {
	mu        sync.Mutex
	buckets   *cache.Cache
	cooldowns *cache.Cache
	now       func() time.Time
	closed    bool
}

// NewMemoryBackend creates an empty in-process backend
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		buckets:   cache.New(time.Minute, 5*time.Minute),
		cooldowns: cache.New(time.Minute, 5*time.Minute),
		now:       time.Now,
	}
}

func (b *MemoryBackend) Allow(ctx context.Context, key string, ratePerSec float64, burst int) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false, ErrLimiterClosed
	}

	now := b.now()
	limit := rate.Limit(ratePerSec)

	var limiter *rate.Limiter
	if v, ok := b.buckets.Get(key); ok {
		limiter = v.(*rate.Limiter)
		if limiter.Limit() != limit {
			limiter.SetLimitAt(now, limit)
		}
		if limiter.Burst() != burst {
			limiter.SetBurstAt(now, burst)
		}
	} else {
		limiter = rate.NewLimiter(limit, burst)
	}

	allowed := limiter.AllowN(now, 1)
	b.buckets.Set(key, limiter, bucketTTL(ratePerSec, burst))
	return allowed, nil
}

func (b *MemoryBackend) Debounce(ctx context.Context, key string, cooldown time.Duration) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false, ErrLimiterClosed
	}

	now := b.now()
	if v, ok := b.cooldowns.Get(key); ok && now.Before(v.(time.Time)) {
		return false, nil
	}
	b.cooldowns.Set(key, now.Add(cooldown), cooldown)
	return true, nil
}

func (b *MemoryBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	b.buckets.Flush()
	b.cooldowns.Flush()
	return nil
}
