package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/lcalzada-xor/mlomgr/internal/adapters/web/handlers"
	"github.com/lcalzada-xor/mlomgr/internal/adapters/web/websocket"
	"github.com/lcalzada-xor/mlomgr/internal/core/ports"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Server is the diagnostics HTTP surface of the MLO manager.
type Server struct {
	Addr string

	StateHandler  *handlers.StateHandler
	EventHandler  *handlers.EventHandler
	DecodeHandler *handlers.DecodeHandler
	WSManager     *websocket.Manager
	srv           *http.Server
}

// NewServer creates a new web server.
func NewServer(addr string, devices handlers.DeviceSource, groups handlers.GroupSource, journal ports.EventJournal) *Server {
	return &Server{
		Addr:          addr,
		StateHandler:  handlers.NewStateHandler(devices, groups),
		EventHandler:  handlers.NewEventHandler(journal),
		DecodeHandler: handlers.NewDecodeHandler(),
		WSManager:     websocket.NewManager(journal),
	}
}

// Handler returns the instrumented route tree.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(SetupRoutes(s), "mlomgr-diag")
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.WSManager.Start(ctx)

	s.srv = &http.Server{
		Addr:              s.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		slog.Info("Web server shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Web server shutdown error", "error", err)
		}
	}()

	slog.Info("Web server listening", "addr", s.Addr)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
