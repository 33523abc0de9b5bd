// Package api exposes the on-demand trigger surface over HTTP: enqueue and
// poll endpoints for the fixed job types, plus a health probe. The dashboard
// and configuration screens live elsewhere; this server only triggers and
// reports jobs.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/merchantry/ordersync/internal/sync"
)

// Timeouts for the trigger server. Requests are tiny; anything slow is a bug.
const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 10 * time.Second
)

// JobService is the slice of the job queue the handlers consume.
// Satisfied by *sync.Queue; tests inject fakes.
type JobService interface {
	Enqueue(ctx context.Context, jobType sync.JobType) (sync.EnqueueResult, error)
	Poll(ctx context.Context, jobID string) (*sync.Job, error)
}

// Server wraps an echo instance with the trigger routes registered.
type Server struct {
	echo   *echo.Echo
	addr   string
	logger *slog.Logger
}

// NewServer builds the trigger server. addr is a listen address like ":8480".
func NewServer(addr string, jobs JobService, logger *slog.Logger) *Server {
	e := newEcho(jobs, logger)

	return &Server{echo: e, addr: addr, logger: logger}
}

// newEcho assembles the echo instance. Split from NewServer so handler
// tests can drive routes without a listener.
func newEcho(jobs JobService, logger *slog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	h := &handler{jobs: jobs, logger: logger}

	e.POST("/v1/jobs/:type", h.enqueue)
	e.GET("/v1/jobs/:id", h.poll)
	e.GET("/healthz", h.health)

	e.Server.ReadHeaderTimeout = readHeaderTimeout

	return e
}

// Start serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errc := make(chan error, 1)

	go func() {
		s.logger.Info("trigger server listening", slog.String("addr", s.addr))

		if err := s.echo.Start(s.addr); err != nil && err != http.ErrServerClosed {
			errc <- err
			return
		}

		errc <- nil
	}()

	select {
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("api: serving: %w", err)
		}

		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api: shutdown: %w", err)
	}

	s.logger.Info("trigger server stopped")

	return <-errc
}
