// Package http provides the HTTP server for the negotiation engine.
package http

import (
	"log/slog"
	stdhttp "net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/b0ase/kintsugi/internal/platform/ratelimiter"
	"github.com/b0ase/kintsugi/internal/service"
	v1 "github.com/b0ase/kintsugi/internal/transport/http/v1"
)

// SessionSocket upgrades a request to a websocket bound to a session.
type SessionSocket interface {
	ServeSession(w stdhttp.ResponseWriter, r *stdhttp.Request, sessionID string)
}

// Options configures NewServer. Zero values disable the matching feature.
type Options struct {
	Logger  *slog.Logger
	Limiter *ratelimiter.MapLimiter
	Metrics stdhttp.Handler
	Socket  SessionSocket
}

// NewServer creates and configures the HTTP server.
func NewServer(svc *service.Service, opts Options) *echo.Echo {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(requestLogger(logger))
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	// Handlers
	v1Handler := v1.NewHandler(svc, opts.Limiter, logger)

	// Register Routes
	v1Handler.RegisterRoutes(e)
	if opts.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(opts.Metrics))
	}
	if opts.Socket != nil {
		e.GET("/v1/sessions/:session_id/ws", func(c echo.Context) error {
			opts.Socket.ServeSession(c.Response(), c.Request(), c.Param("session_id"))
			return nil
		})
	}

	return e
}

func requestLogger(logger *slog.Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogRemoteIP: true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency_ms", v.Latency.Milliseconds(),
				"remote_ip", v.RemoteIP,
			}
			if v.Error != nil {
				logger.Warn("request failed", append(attrs, "error", v.Error)...)
				return nil
			}
			logger.Info("request", attrs...)
			return nil
		},
	})
}
