// Package hub delivers best-effort notifications off the request path.
package hub

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"anonchat/pkg/interfaces"
	"anonchat/pkg/types"
)

// Hub queues envelopes for a single delivery goroutine. Notify never
// blocks; a full queue drops the envelope.
type Hub struct {
	transport   interfaces.Transport
	outbox      chan delivery
	sendTimeout time.Duration
	logger      *zap.Logger

	shutdown chan struct{}
	done     chan struct{}
	running  bool
	mu       sync.RWMutex
}

type delivery struct {
	user     int64
	envelope *types.Envelope
}

var _ interfaces.Notifier = (*Hub)(nil)

// NewHub creates a stopped hub sending through transport
func NewHub(transport interfaces.Transport, logger *zap.Logger) *Hub {
	return &Hub{
		transport:   transport,
		outbox:      make(chan delivery, 1000),
		sendTimeout: 5 * time.Second,
		logger:      logger.Named("hub"),
	}
}

// Start begins delivery
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return ErrHubAlreadyRunning
	}
	h.running = true
	h.shutdown = make(chan struct{})
	h.done = make(chan struct{})

	go h.run(ctx, h.shutdown, h.done)

	h.logger.Info("notification hub started")
	return nil
}

// Stop flushes queued envelopes and stops delivery
func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return ErrHubNotRunning
	}
	h.running = false
	close(h.shutdown)
	done := h.done
	h.mu.Unlock()

	<-done
	h.logger.Info("notification hub stopped")
	return nil
}

// Notify queues envelope for user
func (h *Hub) Notify(user int64, envelope *types.Envelope) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if !h.running {
		h.logger.Debug("hub not running, notification dropped", zap.Int64("user", user))
		return
	}

	select {
	case h.outbox <- delivery{user: user, envelope: envelope}:
	default:
		h.logger.Warn("notification queue full, dropping",
			zap.Int64("user", user),
			zap.String("outcome", string(envelope.Outcome)),
		)
	}
}

func (h *Hub) run(ctx context.Context, shutdown, done chan struct{}) {
	defer close(done)

	for {
		select {
		case d := <-h.outbox:
			h.deliver(ctx, d)
		case <-shutdown:
			h.drain(ctx)
			return
		case <-ctx.Done():
			return
		}
	}
}

func (h *Hub) drain(ctx context.Context) {
	for {
		select {
		case d := <-h.outbox:
			h.deliver(ctx, d)
		default:
			return
		}
	}
}

func (h *Hub) deliver(ctx context.Context, d delivery) {
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.sendTimeout)
	defer cancel()

	err := h.transport.Send(sendCtx, d.user, d.envelope)
	switch {
	case err == nil:
	case errors.Is(err, interfaces.ErrUserNotConnected):
		h.logger.Debug("notification recipient offline", zap.Int64("user", d.user))
	default:
		h.logger.Warn("notification delivery failed", zap.Int64("user", d.user), zap.Error(err))
	}
}
