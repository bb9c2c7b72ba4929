package websocket

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"anonchat/pkg/interfaces"
	"anonchat/pkg/types"
)

// Registry maps each user to their single live connection
type Registry struct {
	mu          sync.RWMutex
	connections map[int64]*Connection
	logger      *zap.Logger
}

var _ interfaces.Transport = (*Registry)(nil)

// NewRegistry creates an empty registry
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		connections: make(map[int64]*Connection),
		logger:      logger.Named("registry"),
	}
}

// Register adds conn, replacing and closing any previous connection of the same user
func (r *Registry) Register(conn *Connection) error {
	if conn == nil {
		return ErrNilConnection
	}
	if !types.IsValidUserID(conn.UserID()) {
		return ErrInvalidUser
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.connections[conn.UserID()]; ok && existing != conn {
		// Closed outside the lock; Close may block on the socket.
		go func() {
			if err := existing.Close(); err != nil {
				r.logger.Debug("failed to close replaced connection", zap.Error(err))
			}
		}()
	}
	r.connections[conn.UserID()] = conn
	return nil
}

// Unregister removes conn if it is still the user's current connection.
// It reports whether anything was removed.
func (r *Registry) Unregister(conn *Connection) bool {
	if conn == nil {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.connections[conn.UserID()]; !ok || current != conn {
		return false
	}
	delete(r.connections, conn.UserID())
	return true
}

// Get returns the current connection of user
func (r *Registry) Get(user int64) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.connections[user]
	return conn, ok
}

// Count returns the number of live connections
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections)
}

// Send implements interfaces.Transport
func (r *Registry) Send(ctx context.Context, user int64, envelope *types.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	conn, ok := r.Get(user)
	if !ok {
		return fmt.Errorf("send to %d: %w", user, interfaces.ErrUserNotConnected)
	}
	return conn.WriteJSON(envelope)
}

// CloseAll closes every connection and empties the registry
func (r *Registry) CloseAll() {
	r.mu.Lock()
	conns := r.connections
	r.connections = make(map[int64]*Connection)
	r.mu.Unlock()

	for _, conn := range conns {
		_ = conn.Close()
	}
}
