// Package api exposes the HTTP surface: health, stats, metrics and the websocket endpoint.
package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"anonchat/pkg/types"
)

// HealthChecker reports store health
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// QueueStats reports the waiting queue depth
type QueueStats interface {
	Size() int
}

// ConnectionStats reports live transport connections
type ConnectionStats interface {
	Count() int
}

// SessionInspector reads session metadata and reports for moderation
type SessionInspector interface {
	GetSessionMeta(ctx context.Context, sessionID string) (*types.Session, error)
	ListReports(ctx context.Context, sessionID string) ([]*types.Report, error)
}

// Deps are the components the server reads from. The moderation route is
// only mounted when both Sessions and AdminToken are set.
type Deps struct {
	Store       HealthChecker
	Queue       QueueStats
	Connections ConnectionStats
	Sessions    SessionInspector
	AdminToken  string
	WebSocket   http.HandlerFunc
	Gatherer    prometheus.Gatherer
}

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Database  string    `json:"database"`
	Waiting   int       `json:"waiting"`
}

// StatsResponse is the body of GET /api/stats
type StatsResponse struct {
	Waiting     int     `json:"waiting"`
	Connections int     `json:"connections"`
	Uptime      float64 `json:"uptime_seconds"`
}

// SessionResponse is the body of GET /api/sessions/:id
type SessionResponse struct {
	Session *types.Session  `json:"session"`
	Reports []*types.Report `json:"reports"`
}

// Server is the gin engine plus its dependencies
type Server struct {
	deps    Deps
	engine  *gin.Engine
	started time.Time
	logger  *zap.Logger
}

// NewServer builds the routes
func NewServer(deps Deps, logger *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.HandleMethodNotAllowed = true
	engine.Use(gin.Recovery())
	engine.Use(requestLogger(logger.Named("http")))
	engine.Use(cors.New(cors.Config{
		AllowOriginFunc: func(origin string) bool { return true },
		AllowMethods:    []string{"GET", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Authorization"},
	}))

	s := &Server{
		deps:    deps,
		engine:  engine,
		started: time.Now(),
		logger:  logger,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.engine.GET("/health", s.healthCheck)
	s.engine.GET("/api/stats", s.stats)
	if s.deps.Gatherer != nil {
		s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})))
	}
	if s.deps.Sessions != nil && s.deps.AdminToken != "" {
		admin := s.engine.Group("/api", s.requireAdmin)
		admin.GET("/sessions/:id", s.session)
	}
	if s.deps.WebSocket != nil {
		s.engine.GET("/ws", gin.WrapF(s.deps.WebSocket))
	}
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.engine.ServeHTTP(w, r)
}

func (s *Server) healthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	resp := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Database:  "healthy",
		Waiting:   s.deps.Queue.Size(),
	}

	code := http.StatusOK
	if err := s.deps.Store.HealthCheck(ctx); err != nil {
		s.logger.Warn("health check failed", zap.Error(err))
		resp.Status = "unhealthy"
		resp.Database = "unavailable"
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, resp)
}

func (s *Server) stats(c *gin.Context) {
	c.JSON(http.StatusOK, StatsResponse{
		Waiting:     s.deps.Queue.Size(),
		Connections: s.deps.Connections.Count(),
		Uptime:      time.Since(s.started).Seconds(),
	})
}

// requireAdmin checks "Authorization: Bearer <token>"
func (s *Server) requireAdmin(c *gin.Context) {
	given, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
	if !ok || subtle.ConstantTimeCompare([]byte(given), []byte(s.deps.AdminToken)) != 1 {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Next()
}

func (s *Server) session(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	id := c.Param("id")
	meta, err := s.deps.Sessions.GetSessionMeta(ctx, id)
	if err != nil {
		s.logger.Warn("session lookup failed", zap.String("session_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}
	if meta == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}

	reports, err := s.deps.Sessions.ListReports(ctx, id)
	if err != nil {
		s.logger.Warn("report lookup failed", zap.String("session_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}
	if reports == nil {
		reports = []*types.Report{}
	}
	c.JSON(http.StatusOK, SessionResponse{Session: meta, Reports: reports})
}
