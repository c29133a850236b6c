package httpserver

import (
	"log/slog"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pulsegram/pulsegram/internal/platform/correlation"
	apperrors "github.com/pulsegram/pulsegram/internal/platform/errors"
)

func (s *Server) registerRoutes() {
	s.echo.Use(s.setupRequestLoggerMiddleware())
	s.echo.Use(middleware.Recover())
	s.echo.Use(correlationMiddleware)
	s.echo.Use(apperrors.Middleware())
	s.echo.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		XSSProtection:      "",
		ContentTypeNosniff: "nosniff",
		XFrameOptions:      "DENY",
		ReferrerPolicy:     "strict-origin-when-cross-origin",
	}))

	s.registerHealthRoutes()
	s.registerAPIRoutes()

	s.echo.GET("/ws/content", s.handleWebsocket)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

func (s *Server) registerAPIRoutes() {
	mutationLimiter := newRateLimiter(s.config.MutationRatePerSecond, s.config.MutationBurst)

	s.echo.GET("/api/content/:type/:id", s.handleGetSnapshot)
	s.echo.POST("/api/content/:type/:id/like", s.handleSetLike, mutationLimiter)
	s.echo.POST("/api/content/:type/:id/like/toggle", s.handleToggleLike, mutationLimiter)
	s.echo.POST("/api/content/:type/:id/comments", s.handleAddComment, mutationLimiter)
	s.echo.POST("/api/content/:type/:id/shares", s.handleRecordShare, mutationLimiter)
	s.echo.POST("/api/content/:type/:id/resync", s.handleResync)
}

func (s *Server) setupRequestLoggerMiddleware() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
			}
			if v.Error != nil {
				attrs = append(attrs, "error", v.Error)
			}
			slog.InfoContext(c.Request().Context(), "Request", attrs...)
			return nil
		},
	})
}

func correlationMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := correlation.WithID(c.Request().Context(), correlation.NewID())
		c.SetRequest(c.Request().WithContext(ctx))
		return next(c)
	}
}
