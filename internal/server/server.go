// Package server собирает HTTP сервер синхронизации: хранилище, маршруты,
// middleware и ленту изменений.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/iudanet/scorekeeper/internal/server/config"
	"github.com/iudanet/scorekeeper/internal/server/feed"
	"github.com/iudanet/scorekeeper/internal/server/handlers"
	"github.com/iudanet/scorekeeper/internal/server/jwt"
	"github.com/iudanet/scorekeeper/internal/server/middleware"
	"github.com/iudanet/scorekeeper/internal/server/storage"
	"github.com/iudanet/scorekeeper/internal/server/storage/sqlstore"
)

// Deps зависимости маршрутизатора
type Deps struct {
	Records    storage.RecordStorage
	Devices    storage.DeviceStorage
	DB         handlers.Pinger
	Tokens     *jwt.Service
	Hub        *feed.Hub
	EnrollCode string
	Version    string
	EnrollRate int
}

// NewRouter создает маршрутизатор API. ctx ограничивает жизнь фоновых задач
// rate limiter'а.
func NewRouter(ctx context.Context, logger *slog.Logger, deps Deps) http.Handler {
	healthHandler := handlers.NewHealthHandler(logger, deps.DB, deps.Version)
	enrollHandler := handlers.NewEnrollHandler(logger, deps.Devices, deps.Tokens, deps.EnrollCode)
	var broadcaster handlers.Broadcaster
	if deps.Hub != nil {
		broadcaster = deps.Hub
	}
	syncHandler := handlers.NewSyncHandler(logger, deps.Records, broadcaster)

	r := mux.NewRouter()
	r.Use(middleware.RecoveryMiddleware(logger))
	r.Use(middleware.LoggingMiddleware(logger, "/api/v1/health"))

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/health", healthHandler.Health).Methods(http.MethodGet)

	enrollLimiter := middleware.NewRateLimiter(ctx, deps.EnrollRate, time.Minute, logger)
	api.Handle("/devices/enroll", enrollLimiter.Middleware(http.HandlerFunc(enrollHandler.Enroll))).Methods(http.MethodPost)

	protected := api.PathPrefix("").Subrouter()
	protected.Use(middleware.AuthMiddleware(logger, deps.Tokens))
	protected.HandleFunc("/sync/push", syncHandler.Push).Methods(http.MethodPost)
	protected.HandleFunc("/sync/pull", syncHandler.Pull).Methods(http.MethodGet)
	if deps.Hub != nil {
		feedHandler := handlers.NewFeedHandler(logger, deps.Hub)
		protected.HandleFunc("/feed", feedHandler.Feed).Methods(http.MethodGet)
	}

	return r
}

// Server HTTP сервер синхронизации
type Server struct {
	logger *slog.Logger
	store  *sqlstore.Storage
	cfg    *config.Config
	hub    *feed.Hub
	tokens *jwt.Service
	ver    string
}

// New открывает хранилище (с миграциями) и готовит сервер к запуску
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, version string) (*Server, error) {
	store, err := sqlstore.New(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	logger.Info("Storage ready", "dialect", store.Dialect())

	return &Server{
		logger: logger,
		store:  store,
		cfg:    cfg,
		hub:    feed.NewHub(logger, feed.Config{MaxConnPerDevice: cfg.FeedMaxConns}),
		tokens: jwt.NewService(cfg.JWTSecret, cfg.TokenTTL),
		ver:    version,
	}, nil
}

// Run обслуживает запросы до отмены ctx, затем корректно останавливается
func (s *Server) Run(ctx context.Context) error {
	defer func() {
		if err := s.store.Close(); err != nil {
			s.logger.Error("Failed to close storage", "error", err)
		}
	}()

	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go s.hub.Run(hubCtx)

	srv := &http.Server{
		Addr: s.cfg.Addr,
		Handler: NewRouter(ctx, s.logger, Deps{
			Records:    s.store,
			Devices:    s.store,
			DB:         s.store,
			Tokens:     s.tokens,
			Hub:        s.hub,
			EnrollCode: s.cfg.EnrollCode,
			EnrollRate: s.cfg.EnrollRate,
			Version:    s.ver,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Server listening", "addr", s.cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down server")

	// websocket-соединения закрывает хаб, Shutdown их не ждет
	stopHub()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.logger.Info("Server stopped")
	return nil
}
