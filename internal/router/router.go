// Package router relays payloads between the two members of a session.
package router

import (
	"context"
	"strconv"

	"go.uber.org/zap"

	"anonchat/internal/metrics"
	"anonchat/pkg/interfaces"
	"anonchat/pkg/types"
)

// Admitter is the token-bucket half of the rate limiter
type Admitter interface {
	Allow(ctx context.Context, key string, ratePerSec float64, burst int) (bool, error)
}

// SessionLookup resolves a user's active session
type SessionLookup interface {
	GetSession(ctx context.Context, user int64) (*types.SessionRecord, error)
}

// Limits is the per-user message admission rate
type Limits struct {
	MessagesPerSecond float64
	Burst             int
}

// Router decides whether a payload is forwarded and sends it to the partner
type Router struct {
	limiter   Admitter
	sessions  SessionLookup
	transport interfaces.Transport
	limits    Limits
	logger    *zap.Logger
}

// NewRouter creates a router. A zero rate disables relaying entirely.
func NewRouter(limiter Admitter, sessions SessionLookup, transport interfaces.Transport, limits Limits, logger *zap.Logger) (*Router, error) {
	if limits.MessagesPerSecond < 0 || limits.Burst < 0 {
		return nil, ErrInvalidLimits
	}
	return &Router{
		limiter:   limiter,
		sessions:  sessions,
		transport: transport,
		limits:    limits,
		logger:    logger.Named("router"),
	}, nil
}

// Relay checks admission, then session, then payload kind, and forwards.
// The negative outcomes are rate_limited, no_session and unsupported, in
// that order of precedence. Internal failures collapse to OutcomeError.
func (r *Router) Relay(ctx context.Context, user int64, payload *types.Payload) types.Outcome {
	outcome := r.relay(ctx, user, payload)
	metrics.RelayOutcomes.WithLabelValues(string(outcome)).Inc()
	return outcome
}

func (r *Router) relay(ctx context.Context, user int64, payload *types.Payload) types.Outcome {
	allowed, err := r.limiter.Allow(ctx, messageKey(user), r.limits.MessagesPerSecond, r.limits.Burst)
	if err != nil {
		r.logger.Error("rate limiter failed", zap.Int64("user", user), zap.Error(err))
		return types.OutcomeError
	}
	if !allowed {
		return types.OutcomeRateLimited
	}

	session, err := r.sessions.GetSession(ctx, user)
	if err != nil {
		r.logger.Error("session lookup failed", zap.Int64("user", user), zap.Error(err))
		return types.OutcomeError
	}
	if session == nil {
		return types.OutcomeNoSession
	}

	if err := payload.Validate(); err != nil {
		r.logger.Debug("payload rejected", zap.Int64("user", user), zap.Error(err))
		return types.OutcomeUnsupported
	}
	forward, kind := payload.Forwardable()
	if forward == nil {
		return types.OutcomeUnsupported
	}

	if err := r.transport.Send(ctx, session.PartnerID, types.NewMessage(kind, forward)); err != nil {
		r.logger.Warn("relay to partner failed",
			zap.Int64("user", user),
			zap.String("session_id", session.SessionID),
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
		return types.OutcomeError
	}
	return types.OutcomeDelivered
}

func messageKey(user int64) string {
	return "msg:" + strconv.FormatInt(user, 10)
}
