// Package httpserver exposes the interaction engine over a JSON API and a
// websocket endpoint for snapshot push.
package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/pulsegram/pulsegram/internal/domain"
	"github.com/pulsegram/pulsegram/internal/platform/config"
)

// interactionService is the surface of the interaction engine the HTTP
// handlers need. Mutations require an open view for the content key.
type interactionService interface {
	SetLike(key domain.ContentKey, desired bool, seq uint64) (domain.InteractionSnapshot, error)
	ToggleLike(key domain.ContentKey, seq uint64) (domain.InteractionSnapshot, error)
	AddComment(key domain.ContentKey, body string, seq uint64) (domain.InteractionSnapshot, error)
	RecordShare(key domain.ContentKey, seq uint64) (domain.InteractionSnapshot, error)
	Snapshot(key domain.ContentKey) (domain.InteractionSnapshot, error)
	Resync(key domain.ContentKey)
}

// clientRegistry attaches websocket connections to content keys. The first
// registered connection opens the view, the last unregister closes it.
type clientRegistry interface {
	Register(key domain.ContentKey, conn *websocket.Conn) error
	Unregister(key domain.ContentKey, conn *websocket.Conn)
}

type Server struct {
	echo   *echo.Echo
	config *config.Config

	interactions interactionService
	clients      clientRegistry

	healthChecks []HealthCheck
	startTime    time.Time
}

func NewServer(cfg *config.Config, interactions interactionService, clients clientRegistry, healthChecks []HealthCheck) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	srv := &Server{
		echo:         e,
		config:       cfg,
		interactions: interactions,
		clients:      clients,
		healthChecks: healthChecks,
		startTime:    time.Now(),
	}

	srv.registerRoutes()

	return srv
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	if err := s.echo.Start(":" + s.config.Port); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}
