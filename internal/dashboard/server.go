package dashboard

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/xaenox/chatrank/internal/metrics"
	"go.uber.org/zap"
)

const shutdownTimeout = 5 * time.Second

type Server struct {
	srv    *http.Server
	logger *zap.Logger
}

// NewServer wires the dashboard routes. /metrics is served by m and is not
// itself instrumented.
func NewServer(host string, port int, controller *Controller, m metrics.Recorder, logger *zap.Logger) *Server {
	router := &Router{}
	router.Get("/{$}", "/", http.HandlerFunc(controller.Index))
	router.Get("/data", "/data", http.HandlerFunc(controller.Data))
	router.Get("/health", "/health", http.HandlerFunc(controller.Health))

	mux := router.Mux(m)
	mux.Handle("/metrics", m.Handler())

	return &Server{
		srv: &http.Server{
			Addr:         net.JoinHostPort(host, strconv.Itoa(port)),
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)
	go func() {
		s.logger.Info("Dashboard listening", zap.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err, ok := <-serverErr:
		if ok {
			return fmt.Errorf("dashboard server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("dashboard shutdown: %w", err)
	}
	s.logger.Info("Dashboard stopped")
	return nil
}
