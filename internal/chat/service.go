// Package chat implements the user commands on top of the matching
// queue, the session store and the relay router.
package chat

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"anonchat/internal/metrics"
	"anonchat/pkg/interfaces"
	"anonchat/pkg/types"
)

// Matcher is the waiting queue plus its session passthroughs
type Matcher interface {
	Enqueue(ctx context.Context, user int64) (*types.MatchResult, error)
	Cancel(user int64) bool
	IsWaiting(user int64) bool
	GetSession(ctx context.Context, user int64) (*types.SessionRecord, error)
	EndSession(ctx context.Context, user int64) (*types.SessionEnd, error)
}

// Abuse records blocks and reports
type Abuse interface {
	AddBlock(ctx context.Context, a, b int64) error
	AddReport(ctx context.Context, sessionID string, reporter, reported int64) error
}

// Debouncer is the cooldown half of the rate limiter
type Debouncer interface {
	Debounce(ctx context.Context, key string, cooldown time.Duration) (bool, error)
}

// Relayer forwards a payload to the sender's partner
type Relayer interface {
	Relay(ctx context.Context, user int64, payload *types.Payload) types.Outcome
}

// Config holds the command settings
type Config struct {
	FindCooldown time.Duration
	JitsiHost    string
}

// Service runs one command at a time per call. Partner notifications
// never affect the caller's outcome. The match notice goes straight to
// the transport so it reaches the partner before any relayed message;
// the rest go through the notifier.
type Service struct {
	matcher   Matcher
	abuse     Abuse
	debounce  Debouncer
	relay     Relayer
	transport interfaces.Transport
	notifier  interfaces.Notifier
	config    Config
	logger    *zap.Logger
}

// NewService wires the command flows
func NewService(matcher Matcher, abuse Abuse, debounce Debouncer, relay Relayer, transport interfaces.Transport, notifier interfaces.Notifier, config Config, logger *zap.Logger) *Service {
	return &Service{
		matcher:   matcher,
		abuse:     abuse,
		debounce:  debounce,
		relay:     relay,
		transport: transport,
		notifier:  notifier,
		config:    config,
		logger:    logger.Named("chat"),
	}
}

// Handle dispatches one inbound event. Internal errors are logged and
// answered with OutcomeError. Payloads are checked by the relay, after
// the rate limit and session lookup.
func (s *Service) Handle(ctx context.Context, user int64, in *types.Inbound) *types.Envelope {
	if err := in.Validate(); err != nil {
		return types.NewOutcome(types.OutcomeUnsupported)
	}

	var (
		env *types.Envelope
		err error
	)
	switch in.Command {
	case types.CommandFind:
		env, err = s.Find(ctx, user)
	case types.CommandEnd:
		env, err = s.End(ctx, user)
	case types.CommandNext:
		env, err = s.Next(ctx, user)
	case types.CommandBlock:
		env, err = s.Block(ctx, user)
	case types.CommandReport:
		env, err = s.Report(ctx, user)
	case types.CommandVideo:
		env, err = s.Video(ctx, user)
	case "":
		env = types.NewOutcome(s.relay.Relay(ctx, user, &in.Payload))
	}

	if err != nil {
		s.logger.Error("command failed",
			zap.Int64("user", user),
			zap.String("command", in.Command),
			zap.Error(err),
		)
		return types.NewOutcome(types.OutcomeError)
	}
	return env
}

// Find puts user in the queue, subject to the find cooldown
func (s *Service) Find(ctx context.Context, user int64) (*types.Envelope, error) {
	ok, err := s.debounce.Debounce(ctx, findKey(user), s.config.FindCooldown)
	if err != nil {
		return nil, err
	}
	if !ok {
		return types.NewOutcome(types.OutcomeCooldown), nil
	}

	session, err := s.matcher.GetSession(ctx, user)
	if err != nil {
		return nil, err
	}
	if session != nil {
		return types.NewOutcome(types.OutcomeAlreadyInSession), nil
	}
	if s.matcher.IsWaiting(user) {
		return types.NewOutcome(types.OutcomeAlreadyWaiting), nil
	}

	return s.enqueue(ctx, user)
}

// End leaves the queue, or ends the current session
func (s *Service) End(ctx context.Context, user int64) (*types.Envelope, error) {
	if s.matcher.Cancel(user) {
		return types.NewOutcome(types.OutcomeLeftQueue), nil
	}

	end, err := s.endSession(ctx, user, types.OutcomePartnerLeft)
	if err != nil {
		return nil, err
	}
	if end == nil {
		return types.NewOutcome(types.OutcomeNoSession), nil
	}
	return &types.Envelope{Type: types.EnvelopeOutcome, Outcome: types.OutcomeEnded, SessionID: end.SessionID}, nil
}

// Next leaves whatever user is in and searches again
func (s *Service) Next(ctx context.Context, user int64) (*types.Envelope, error) {
	if !s.matcher.Cancel(user) {
		if _, err := s.endSession(ctx, user, types.OutcomePartnerLeft); err != nil {
			return nil, err
		}
	}
	return s.enqueue(ctx, user)
}

// Block ends the session and blocks the partner in both directions
func (s *Service) Block(ctx context.Context, user int64) (*types.Envelope, error) {
	end, err := s.endSession(ctx, user, types.OutcomePartnerBlocked)
	if err != nil {
		return nil, err
	}
	if end == nil {
		return types.NewOutcome(types.OutcomeNoSession), nil
	}

	partner := end.Other(user)
	if partner != user {
		if err := s.abuse.AddBlock(ctx, user, partner); err != nil {
			return nil, fmt.Errorf("failed to store block: %w", err)
		}
	}
	return types.NewOutcome(types.OutcomeBlocked), nil
}

// Report files a report against the current partner
func (s *Service) Report(ctx context.Context, user int64) (*types.Envelope, error) {
	session, err := s.matcher.GetSession(ctx, user)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return types.NewOutcome(types.OutcomeNoSession), nil
	}

	if err := s.abuse.AddReport(ctx, session.SessionID, user, session.PartnerID); err != nil {
		return nil, fmt.Errorf("failed to store report: %w", err)
	}
	return &types.Envelope{Type: types.EnvelopeOutcome, Outcome: types.OutcomeReported, SessionID: session.SessionID}, nil
}

// Video hands both members a fresh meeting link for their session
func (s *Service) Video(ctx context.Context, user int64) (*types.Envelope, error) {
	session, err := s.matcher.GetSession(ctx, user)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return types.NewOutcome(types.OutcomeNoSession), nil
	}

	link, err := VideoLink(s.config.JitsiHost, session.SessionID)
	if err != nil {
		return nil, err
	}

	env := &types.Envelope{
		Type:      types.EnvelopeOutcome,
		Outcome:   types.OutcomeVideoLink,
		SessionID: session.SessionID,
		Link:      link,
	}
	if session.PartnerID != user {
		s.notifier.Notify(session.PartnerID, env)
	}
	return env, nil
}

// Relay forwards a payload to the partner
func (s *Service) Relay(ctx context.Context, user int64, payload *types.Payload) types.Outcome {
	return s.relay.Relay(ctx, user, payload)
}

// Disconnect drops user from the waiting queue. An active session is kept
// so the partner can still end it.
func (s *Service) Disconnect(user int64) {
	if s.matcher.Cancel(user) {
		s.logger.Debug("disconnected user left the queue", zap.Int64("user", user))
	}
}

func (s *Service) enqueue(ctx context.Context, user int64) (*types.Envelope, error) {
	res, err := s.matcher.Enqueue(ctx, user)
	if err != nil {
		return nil, err
	}
	switch res.Status {
	case types.MatchWaiting:
		return types.NewOutcome(types.OutcomeWaiting), nil
	case types.MatchInSession:
		return types.NewOutcome(types.OutcomeAlreadyInSession), nil
	}

	matched := &types.Envelope{Type: types.EnvelopeOutcome, Outcome: types.OutcomeMatched, SessionID: res.SessionID}
	if err := s.transport.Send(ctx, res.PartnerID, matched); err != nil {
		level := zap.WarnLevel
		if errors.Is(err, interfaces.ErrUserNotConnected) {
			level = zap.DebugLevel
		}
		s.logger.Log(level, "match notice not delivered",
			zap.Int64("partner", res.PartnerID),
			zap.String("session_id", res.SessionID),
			zap.Error(err),
		)
	}
	return matched, nil
}

// endSession ends user's session and tells the partner with outcome
func (s *Service) endSession(ctx context.Context, user int64, partnerOutcome types.Outcome) (*types.SessionEnd, error) {
	end, err := s.matcher.EndSession(ctx, user)
	if err != nil {
		return nil, err
	}
	if end == nil {
		return nil, nil
	}

	metrics.SessionsEnded.Inc()
	if partner := end.Other(user); partner != user {
		s.notifier.Notify(partner, &types.Envelope{
			Type:      types.EnvelopeOutcome,
			Outcome:   partnerOutcome,
			SessionID: end.SessionID,
		})
	}
	return end, nil
}

// VideoLink builds "<host>/anon-<session>-<random>" with a fresh tail
func VideoLink(host, sessionID string) (string, error) {
	tail := make([]byte, 6)
	if _, err := rand.Read(tail); err != nil {
		return "", fmt.Errorf("failed to generate room suffix: %w", err)
	}
	room := "anon-" + sessionID + "-" + base64.RawURLEncoding.EncodeToString(tail)
	return strings.TrimRight(host, "/") + "/" + room, nil
}

func findKey(user int64) string {
	return "find:" + strconv.FormatInt(user, 10)
}
