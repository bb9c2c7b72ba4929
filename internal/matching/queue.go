// Package matching owns the in-memory waiting queue and pairs users.
package matching

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"anonchat/internal/metrics"
	"anonchat/pkg/interfaces"
	"anonchat/pkg/types"
)

// Queue is a FIFO of waiting users. Every operation runs under one mutex,
// so scan, removal and session creation are a single step for callers.
type Queue struct {
	store  interfaces.SessionStore
	newID  func() string
	logger *zap.Logger

	mu      sync.Mutex
	waiting []int64
}

// Option configures a Queue
type Option func(*Queue)

// WithIDGenerator replaces the session id generator
func WithIDGenerator(fn func() string) Option {
	return func(q *Queue) { q.newID = fn }
}

// NewQueue creates an empty queue backed by store
func NewQueue(store interfaces.SessionStore, logger *zap.Logger, opts ...Option) *Queue {
	q := &Queue{
		store:  store,
		newID:  uuid.NewString,
		logger: logger.Named("matching"),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue pairs user with the first waiting candidate not blocked in
// either direction, or appends user to the tail. A user already waiting
// gets MatchWaiting again without a second entry; a user already paired
// gets MatchInSession with the current session and is not queued.
func (q *Queue) Enqueue(ctx context.Context, user int64) (*types.MatchResult, error) {
	if !types.IsValidUserID(user) {
		return nil, types.ErrInvalidUserID
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if slices.Contains(q.waiting, user) {
		return &types.MatchResult{Status: types.MatchWaiting}, nil
	}

	current, err := q.store.GetSession(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("failed to check session of %d: %w", user, err)
	}
	if current != nil {
		return &types.MatchResult{
			Status:    types.MatchInSession,
			PartnerID: current.PartnerID,
			SessionID: current.SessionID,
		}, nil
	}

	for i := 0; i < len(q.waiting); i++ {
		candidate := q.waiting[i]

		paired, err := q.store.GetSession(ctx, candidate)
		if err != nil {
			return nil, fmt.Errorf("failed to check session of %d: %w", candidate, err)
		}
		if paired != nil {
			// Paired outside the queue; the entry is stale.
			q.logger.Warn("dropping waiting user with an active session",
				zap.Int64("user", candidate),
				zap.String("session_id", paired.SessionID),
			)
			q.waiting = slices.Delete(q.waiting, i, i+1)
			q.updateDepth()
			i--
			continue
		}

		excluded, err := q.eitherBlocked(ctx, user, candidate)
		if err != nil {
			return nil, err
		}
		if excluded {
			continue
		}

		sessionID := q.newID()
		// The candidate leaves the queue only once the pair is persisted.
		if err := q.store.CreateSession(ctx, user, candidate, sessionID); err != nil {
			return nil, fmt.Errorf("failed to create session: %w", err)
		}
		q.waiting = slices.Delete(q.waiting, i, i+1)
		q.updateDepth()
		metrics.Matches.Inc()

		q.logger.Debug("users matched",
			zap.Int64("user", user),
			zap.Int64("partner", candidate),
			zap.String("session_id", sessionID),
		)
		return &types.MatchResult{
			Status:    types.MatchMatched,
			PartnerID: candidate,
			SessionID: sessionID,
		}, nil
	}

	q.waiting = append(q.waiting, user)
	q.updateDepth()
	return &types.MatchResult{Status: types.MatchWaiting}, nil
}

func (q *Queue) eitherBlocked(ctx context.Context, a, b int64) (bool, error) {
	blocked, err := q.store.IsBlocked(ctx, a, b)
	if err != nil {
		return false, fmt.Errorf("failed to check block %d->%d: %w", a, b, err)
	}
	if blocked {
		return true, nil
	}
	blocked, err = q.store.IsBlocked(ctx, b, a)
	if err != nil {
		return false, fmt.Errorf("failed to check block %d->%d: %w", b, a, err)
	}
	return blocked, nil
}

// Cancel removes user from the queue. It reports whether user was waiting.
func (q *Queue) Cancel(user int64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	i := slices.Index(q.waiting, user)
	if i < 0 {
		return false
	}
	q.waiting = slices.Delete(q.waiting, i, i+1)
	q.updateDepth()
	return true
}

// IsWaiting reports whether user is in the queue
func (q *Queue) IsWaiting(user int64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return slices.Contains(q.waiting, user)
}

// Size returns the number of waiting users
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.waiting)
}

// Snapshot returns the waiting users in FIFO order
func (q *Queue) Snapshot() []int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return slices.Clone(q.waiting)
}

// GetSession looks up the active session of user
func (q *Queue) GetSession(ctx context.Context, user int64) (*types.SessionRecord, error) {
	return q.store.GetSession(ctx, user)
}

// EndSession tears down the active session of user
func (q *Queue) EndSession(ctx context.Context, user int64) (*types.SessionEnd, error) {
	return q.store.EndSession(ctx, user)
}

// caller holds q.mu
func (q *Queue) updateDepth() {
	metrics.WaitingQueueDepth.Set(float64(len(q.waiting)))
}
