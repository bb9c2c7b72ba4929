package types

import (
	"time"
)

// MatchStatus is the result state of a pairing request
type MatchStatus string

const (
	MatchWaiting   MatchStatus = "waiting"
	MatchMatched   MatchStatus = "matched"
	MatchInSession MatchStatus = "in_session"
)

// Outcome is the closed set of user-visible response states.
// Internal errors are never shown to users; they collapse to OutcomeError.
type Outcome string

const (
	OutcomeWaiting          Outcome = "waiting"
	OutcomeMatched          Outcome = "matched"
	OutcomeCooldown         Outcome = "cooldown"
	OutcomeAlreadyWaiting   Outcome = "already_waiting"
	OutcomeAlreadyInSession Outcome = "already_in_session"
	OutcomeLeftQueue        Outcome = "left_queue"
	OutcomeEnded            Outcome = "ended"
	OutcomePartnerLeft      Outcome = "partner_left"
	OutcomeNoSession        Outcome = "no_session"
	OutcomeBlocked          Outcome = "blocked"
	OutcomePartnerBlocked   Outcome = "partner_blocked"
	OutcomeReported         Outcome = "reported"
	OutcomeVideoLink        Outcome = "video_link"
	OutcomeRateLimited      Outcome = "rate_limited"
	OutcomeUnsupported      Outcome = "unsupported"
	OutcomeDelivered        Outcome = "delivered"
	OutcomeError            Outcome = "error"
)

// Session is the canonical metadata record of one pairing.
// EndedAt is nil while the pairing is active.
type Session struct {
	ID        string     `json:"session_id" db:"session_id"`
	UserA     int64      `json:"user1" db:"user1"`
	UserB     int64      `json:"user2" db:"user2"`
	StartedAt time.Time  `json:"started_at" db:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty" db:"ended_at"`
}

// SessionRecord is one side of the reciprocal per-user lookup
type SessionRecord struct {
	UserID    int64     `json:"user_id" db:"user_id"`
	PartnerID int64     `json:"partner_id" db:"partner_id"`
	SessionID string    `json:"session_id" db:"session_id"`
	StartedAt time.Time `json:"started_at" db:"started_at"`
}

// SessionEnd describes a session that was just torn down
type SessionEnd struct {
	SessionID string   `json:"session_id"`
	Users     [2]int64 `json:"users"`
}

// Other returns the member of the ended session that is not user.
// When both slots hold user (a degraded teardown) it returns user itself.
func (e *SessionEnd) Other(user int64) int64 {
	for _, u := range e.Users {
		if u != user {
			return u
		}
	}
	return user
}

// MatchResult is returned by the waiting queue on enqueue
type MatchResult struct {
	Status    MatchStatus `json:"status"`
	PartnerID int64       `json:"partner_id,omitempty"`
	SessionID string      `json:"session_id,omitempty"`
}

// Report is an append-only abuse report. Reporter and Reported hold either
// raw ids or masked tokens depending on the privacy setting.
type Report struct {
	ID        int64     `json:"id" db:"id"`
	SessionID string    `json:"session_id" db:"session_id"`
	Reporter  string    `json:"reporter" db:"reporter"`
	Reported  string    `json:"reported" db:"reported"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
