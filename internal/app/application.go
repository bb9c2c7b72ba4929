// Package app wires the components into a runnable service.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"anonchat/internal/api"
	"anonchat/internal/chat"
	"anonchat/internal/cleanup"
	"anonchat/internal/config"
	"anonchat/internal/database"
	"anonchat/internal/hub"
	"anonchat/internal/matching"
	"anonchat/internal/metrics"
	"anonchat/internal/ratelimit"
	"anonchat/internal/router"
	"anonchat/internal/websocket"
)

const shutdownTimeout = 30 * time.Second

// Application owns every long-lived component
type Application struct {
	config *config.Config
	logger *zap.Logger

	store     *database.Manager
	limiter   *ratelimit.Limiter
	queue     *matching.Queue
	registry  *websocket.Registry
	notifier  *hub.Hub
	relay     *router.Router
	service   *chat.Service
	scheduler *cleanup.Scheduler
	apiServer *api.Server

	httpServer *http.Server
}

// NewApplication builds the component graph in dependency order:
// store, limiter, queue, registry, notifier, relay, commands, HTTP.
// Anything opened before a failure is closed again.
func NewApplication(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	store, err := database.NewManager(cfg.StoreConfig(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}
	if err := store.Init(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize session store: %w", err)
	}

	limiter, err := ratelimit.New(ctx, cfg.RateLimit.RedisURL, logger)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to create rate limiter: %w", err)
	}

	queue := matching.NewQueue(store, logger)
	registry := websocket.NewRegistry(logger)
	notifier := hub.NewHub(registry, logger)

	relay, err := router.NewRouter(limiter, store, registry, router.Limits{
		MessagesPerSecond: cfg.RateLimit.MessagesPerSecond,
		Burst:             cfg.RateLimit.Burst,
	}, logger)
	if err != nil {
		_ = limiter.Close()
		_ = store.Close()
		return nil, fmt.Errorf("failed to create relay: %w", err)
	}

	service := chat.NewService(queue, store, limiter, relay, registry, notifier, chat.Config{
		FindCooldown: cfg.RateLimit.FindCooldown,
		JitsiHost:    cfg.Video.JitsiHost,
	}, logger)

	wsHandler := websocket.NewHandler(registry, service, cfg.Bot.Token, logger)

	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	apiServer := api.NewServer(api.Deps{
		Store:       store,
		Queue:       queue,
		Connections: registry,
		Sessions:    store,
		AdminToken:  cfg.Admin.Token,
		WebSocket:   wsHandler.HandleWebSocket,
		Gatherer:    reg,
	}, logger)

	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           apiServer,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:     cfg,
		logger:     logger,
		store:      store,
		limiter:    limiter,
		queue:      queue,
		registry:   registry,
		notifier:   notifier,
		relay:      relay,
		service:    service,
		scheduler:  cleanup.NewScheduler(store, cfg.Sessions.TTL, cfg.Sessions.CleanupInterval, logger),
		apiServer:  apiServer,
		httpServer: httpServer,
	}, nil
}

// Handler exposes the HTTP surface without a listener
func (app *Application) Handler() http.Handler {
	return app.apiServer
}

// Addr is the configured listen address
func (app *Application) Addr() string {
	return app.httpServer.Addr
}

// Run starts background work and serves HTTP until ctx is cancelled,
// then shuts everything down. Components are released even when the
// listener cannot be opened.
func (app *Application) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		listenErr := fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return errors.Join(listenErr, app.Stop(shutdownCtx))
	}
	return app.Serve(ctx, listener)
}

// Serve is Run on an existing listener
func (app *Application) Serve(ctx context.Context, listener net.Listener) error {
	if err := app.notifier.Start(context.WithoutCancel(ctx)); err != nil {
		_ = listener.Close()
		return fmt.Errorf("failed to start notifier: %w", err)
	}
	if err := app.scheduler.Start(ctx); err != nil {
		_ = listener.Close()
		return errors.Join(fmt.Errorf("failed to start cleanup: %w", err), app.Stop(context.Background()))
	}

	app.logger.Info("anonchat started", zap.String("addr", listener.Addr().String()))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := app.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return app.Stop(shutdownCtx)
	})

	return g.Wait()
}

// Stop shuts down in reverse dependency order: HTTP, websockets,
// cleanup, notifier, limiter, store. It reports the first failure but
// always runs every step.
func (app *Application) Stop(ctx context.Context) error {
	app.logger.Info("shutting down")

	var errs []error
	if err := app.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http: %w", err))
	}

	app.registry.CloseAll()

	if err := app.scheduler.Stop(ctx); err != nil && !errors.Is(err, cleanup.ErrSchedulerNotRunning) {
		errs = append(errs, fmt.Errorf("cleanup: %w", err))
	}
	if err := app.notifier.Stop(); err != nil && !errors.Is(err, hub.ErrHubNotRunning) {
		errs = append(errs, fmt.Errorf("notifier: %w", err))
	}
	if err := app.limiter.Close(); err != nil {
		errs = append(errs, fmt.Errorf("rate limiter: %w", err))
	}
	if err := app.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store: %w", err))
	}

	if err := errors.Join(errs...); err != nil {
		app.logger.Warn("shutdown finished with errors", zap.Error(err))
		return err
	}
	app.logger.Info("shutdown complete")
	return nil
}
