package ratelimit

import "errors"

var (
	// ErrBackendUnavailable means the configured distributed backend could
	// not be reached. It is returned at startup, never as a silent fallback.
	ErrBackendUnavailable = errors.New("rate limiter backend unavailable")
	ErrLimiterClosed      = errors.New("rate limiter is closed")
)
