// Package ratelimit provides token-bucket and debounce admission over a
// local or Redis backend chosen once at startup.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"anonchat/internal/metrics"
)

// Backend is the capability set shared by the local and distributed limiters.
// Both methods must be atomic per key.
type Backend interface {
	Allow(ctx context.Context, key string, ratePerSec float64, burst int) (bool, error)
	Debounce(ctx context.Context, key string, cooldown time.Duration) (bool, error)
	Close() error
}

// Limiter applies the disabled-limit rules and records decisions
type Limiter struct {
	backend Backend
	logger  *zap.Logger
}

// NewLimiter wraps backend
func NewLimiter(backend Backend, logger *zap.Logger) *Limiter {
	return &Limiter{backend: backend, logger: logger.Named("ratelimit")}
}

// New selects the backend: Redis when redisURL is set, in-process otherwise.
// An unreachable Redis fails here with ErrBackendUnavailable.
func New(ctx context.Context, redisURL string, logger *zap.Logger) (*Limiter, error) {
	if redisURL == "" {
		logger.Info("using in-process rate limiter")
		return NewLimiter(NewMemoryBackend(), logger), nil
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	logger.Info("using redis rate limiter", zap.String("addr", opts.Addr))
	return NewLimiter(NewRedisBackend(client), logger), nil
}

// Allow is a token-bucket check. A non-positive rate always rejects.
func (l *Limiter) Allow(ctx context.Context, key string, ratePerSec float64, burst int) (bool, error) {
	if ratePerSec <= 0 {
		record("allow", false)
		return false, nil
	}

	ok, err := l.backend.Allow(ctx, key, ratePerSec, burst)
	if err != nil {
		metrics.RateLimitDecisions.WithLabelValues("allow", "error").Inc()
		return false, fmt.Errorf("allow %s: %w", key, err)
	}
	record("allow", ok)
	return ok, nil
}

// Debounce admits once per cooldown window. A non-positive cooldown always admits.
func (l *Limiter) Debounce(ctx context.Context, key string, cooldown time.Duration) (bool, error) {
	if cooldown <= 0 {
		record("debounce", true)
		return true, nil
	}

	ok, err := l.backend.Debounce(ctx, key, cooldown)
	if err != nil {
		metrics.RateLimitDecisions.WithLabelValues("debounce", "error").Inc()
		return false, fmt.Errorf("debounce %s: %w", key, err)
	}
	record("debounce", ok)
	return ok, nil
}

// Close releases the backend
func (l *Limiter) Close() error {
	return l.backend.Close()
}

func record(kind string, admitted bool) {
	result := "rejected"
	if admitted {
		result = "admitted"
	}
	metrics.RateLimitDecisions.WithLabelValues(kind, result).Inc()
}

// bucketTTL is how long idle bucket state survives: twice the time to
// refill a full burst, at least one second.
func bucketTTL(ratePerSec float64, burst int) time.Duration {
	seconds := math.Ceil(float64(burst) / ratePerSec * 2)
	return time.Duration(max(1, seconds)) * time.Second
}
