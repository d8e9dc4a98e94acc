// Пакет server — HTTP-сервер docview с graceful shutdown.
// TLS завершается на ingress/прокси перед сервисом.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/bigkaa/docview/internal/api/handlers"
	"github.com/bigkaa/docview/internal/api/middleware"
	"github.com/bigkaa/docview/internal/config"
	"github.com/bigkaa/docview/internal/domain/role"
)

// publicPrefixes — пути, доступные без сессионного токена.
var publicPrefixes = []string{
	"/health/",
	"/metrics",
	"/api/auth/send-otp",
	"/api/auth/verify-otp",
	"/.well-known/jwks.json",
}

// Server — HTTP-сервер docview.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
}

// Deps — компоненты, из которых собирается роутер.
type Deps struct {
	API         *handlers.APIHandler
	Auth        *middleware.SessionAuth
	VerifyLimit *middleware.RateLimiter
	JWKS        http.Handler
}

// New создаёт HTTP-сервер с маршрутами и middleware.
func New(cfg *config.Config, logger *slog.Logger, deps Deps) *Server {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      NewRouter(cfg, logger, deps),
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
		cfg:        cfg,
	}
}

// NewRouter собирает chi-роутер. Вынесен отдельно для тестов.
func NewRouter(cfg *config.Config, logger *slog.Logger, deps Deps) http.Handler {
	router := chi.NewRouter()

	// Глобальные middleware (применяются ко ВСЕМ маршрутам)
	router.Use(middleware.TrustedProxies(cfg.TrustedProxies))
	router.Use(chimw.Recoverer)
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.RequestLogger(logger))
	if len(cfg.CORSOrigins) > 0 {
		router.Use(middleware.CORS(cfg.CORSOrigins))
	}
	router.Use(deps.Auth.WithExclusions(publicPrefixes...))

	api := deps.API

	router.Get("/health/live", api.HealthLive)
	router.Get("/health/ready", api.HealthReady)
	router.Get("/metrics", api.GetMetrics)
	router.Method(http.MethodGet, "/.well-known/jwks.json", deps.JWKS)

	router.Route("/api/auth", func(r chi.Router) {
		r.Post("/send-otp", api.SendOtp)
		r.With(deps.VerifyLimit.Middleware()).Post("/verify-otp", api.VerifyOtp)
		r.Get("/me", api.Me)
	})

	router.Route("/api/pdfs", func(r chi.Router) {
		r.Get("/all", api.ListDocuments)
		r.Get("/{id}", api.StreamDocument)
	})

	router.Route("/api/admin", func(r chi.Router) {
		r.Use(middleware.RequireRole(role.Admin))
		r.Post("/upload", api.UploadDocument)
		r.Delete("/pdf/{id}", api.DeleteDocument)
	})

	return router
}

// Run запускает сервер и ожидает сигнала завершения (SIGINT, SIGTERM)
// или отмены ctx. Затем выполняется graceful shutdown.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен",
			slog.String("addr", s.httpServer.Addr),
		)

		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		s.logger.Info("Получен сигнал завершения", slog.String("signal", sig.String()))
	case <-ctx.Done():
		s.logger.Info("Контекст сервера отменён")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
