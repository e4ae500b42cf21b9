// Пакет server — HTTP-сервер с graceful shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bigkaa/fileproc/internal/api/handlers"
	"github.com/bigkaa/fileproc/internal/api/middleware"
)

// Server — HTTP-сервер приложения.
type Server struct {
	httpServer      *http.Server
	shutdownTimeout time.Duration
	logger          *slog.Logger
}

// New создаёт сервер с общими middleware и служебными маршрутами.
// registerRoutes добавляет маршруты конкретного процесса; для worker-а,
// которому нужны только health и metrics, может быть nil.
func New(port int, shutdownTimeout time.Duration, logger *slog.Logger, health *handlers.HealthHandler, registerRoutes func(chi.Router)) *Server {
	r := chi.NewRouter()

	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.Logging(logger))
	r.Use(middleware.Metrics)

	r.Get("/health/live", health.Live)
	r.Get("/health/ready", health.Ready)
	r.Handle("/metrics", promhttp.Handler())

	if registerRoutes != nil {
		registerRoutes(r)
	}

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
		},
		shutdownTimeout: shutdownTimeout,
		logger:          logger,
	}
}

// Run запускает сервер и блокируется до отмены контекста,
// затем выполняет graceful shutdown.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен", slog.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("ошибка HTTP-сервера: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("Остановка HTTP-сервера")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("ошибка остановки HTTP-сервера: %w", err)
	}
	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
