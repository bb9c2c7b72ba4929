package websocket

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"anonchat/pkg/types"
)

const (
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 64 * 1024
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	HandshakeTimeout: 10 * time.Second,
}

// CommandHandler runs inbound events for a connected user
type CommandHandler interface {
	Handle(ctx context.Context, user int64, in *types.Inbound) *types.Envelope
	Disconnect(user int64)
}

// Handler upgrades requests to websockets and pumps inbound frames
// through the command handler.
type Handler struct {
	registry *Registry
	commands CommandHandler
	token    string
	logger   *zap.Logger
}

// NewHandler creates a handler. An empty token disables the token check.
func NewHandler(registry *Registry, commands CommandHandler, token string, logger *zap.Logger) *Handler {
	return &Handler{
		registry: registry,
		commands: commands,
		token:    token,
		logger:   logger.Named("websocket"),
	}
}

// HandleWebSocket expects ?user_id=N and, when configured, &token=...
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
	if err != nil || !types.IsValidUserID(userID) {
		http.Error(w, "Missing or invalid user_id", http.StatusBadRequest)
		return
	}

	if h.token != "" {
		given := r.URL.Query().Get("token")
		if subtle.ConstantTimeCompare([]byte(given), []byte(h.token)) != 1 {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	wsConn := NewConnection(conn, userID)
	if err := h.registry.Register(wsConn); err != nil {
		h.logger.Error("failed to register connection", zap.Int64("user", userID), zap.Error(err))
		_ = wsConn.Close()
		return
	}

	h.logger.Debug("user connected", zap.Int64("user", userID))
	go h.handleConnection(wsConn)
}

func (h *Handler) handleConnection(conn *Connection) {
	user := conn.UserID()
	defer func() {
		if h.registry.Unregister(conn) {
			h.commands.Disconnect(user)
		}
		_ = conn.Close()
		h.logger.Debug("user disconnected", zap.Int64("user", user))
	}()

	conn.conn.SetReadLimit(maxMessageSize)
	if err := conn.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return
	}
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go h.pingLoop(conn)

	for {
		messageType, data, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket read error", zap.Int64("user", user), zap.Error(err))
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var reply *types.Envelope
		var in types.Inbound
		if err := json.Unmarshal(data, &in); err != nil {
			reply = types.NewOutcome(types.OutcomeUnsupported)
		} else {
			reply = h.commands.Handle(conn.ctx, user, &in)
		}

		if err := conn.WriteJSON(reply); err != nil {
			h.logger.Debug("failed to write reply", zap.Int64("user", user), zap.Error(err))
			return
		}
	}
}

func (h *Handler) pingLoop(conn *Connection) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := conn.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
				return
			}
		case <-conn.Done():
			return
		}
	}
}
