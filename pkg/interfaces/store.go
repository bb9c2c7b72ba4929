package interfaces

import (
	"context"

	"anonchat/pkg/types"
)

// SessionStore persists pairing state, the blocklist and reports.
// Every multi-row mutation commits as a unit. Lookups that find nothing
// return a nil result and a nil error.
type SessionStore interface {
	// CreateSession writes both reciprocal lookup rows and the metadata row
	CreateSession(ctx context.Context, userA, userB int64, sessionID string) error

	// GetSession returns the active session of user, or nil
	GetSession(ctx context.Context, user int64) (*types.SessionRecord, error)

	// EndSession removes both lookup rows and stamps ended_at.
	// Returns nil when user has no active session.
	EndSession(ctx context.Context, user int64) (*types.SessionEnd, error)

	// IsBlocked is an exact directional lookup
	IsBlocked(ctx context.Context, blocker, blocked int64) (bool, error)

	// AddBlock stores (a,b) and (b,a), ignoring duplicates
	AddBlock(ctx context.Context, a, b int64) error

	// AddReport appends a report, masking ids when enabled
	AddReport(ctx context.Context, sessionID string, reporter, reported int64) error

	// CleanupExpiredSessions deletes ended metadata rows older than the TTL
	// and returns how many were removed
	CleanupExpiredSessions(ctx context.Context) (int64, error)

	HealthCheck(ctx context.Context) error
	Close() error
}
