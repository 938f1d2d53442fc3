// Package v1 provides the versioned HTTP handlers.
package v1

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/b0ase/kintsugi/internal/platform/ratelimiter"
	"github.com/b0ase/kintsugi/internal/service"
)

// Handler handles HTTP requests.
type Handler struct {
	service *service.Service
	limiter *ratelimiter.MapLimiter
	logger  *slog.Logger
	now     func() time.Time
}

// NewHandler creates a new handler. A nil limiter disables rate limiting.
func NewHandler(svc *service.Service, limiter *ratelimiter.MapLimiter, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		service: svc,
		limiter: limiter,
		logger:  logger,
		now:     time.Now,
	}
}

// RegisterRoutes registers the v1 routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	// Sessions
	e.POST("/v1/sessions", h.CreateSession)
	e.GET("/v1/sessions/:session_id", h.GetSession)
	e.GET("/v1/sessions/:session_id/messages", h.GetSessionMessages)
	e.GET("/v1/sessions/:session_id/events", h.GetSessionEvents)
	e.POST("/v1/sessions/:session_id/status", h.UpdateStatus)
	e.POST("/v1/sessions/:session_id/contract", h.LinkContract)

	// Turns
	e.POST("/v1/sessions/:session_id/chat", h.Chat, h.rateLimit)
	e.POST("/v1/sessions/:session_id/stream", h.Stream, h.rateLimit)

	// Catalog and exchange
	e.GET("/v1/tools", h.ListTools)
	e.POST("/v1/exchange/orders", h.PlaceOrder)

	e.GET("/health", h.Health)
}

// rateLimit rejects turns from a client IP that exhausted its budget.
func (h *Handler) rateLimit(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ip := c.RealIP()
		now := h.now()
		if h.limiter.Allow(ip, now) {
			return next(c)
		}
		retry := h.limiter.RetryAfter(ip, now)
		c.Response().Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retry.Seconds()))))
		h.logger.Warn("rate limit exceeded", "remote_ip", ip, "path", c.Path())
		return c.JSON(http.StatusTooManyRequests, errorBody{Error: "rate limit exceeded, retry later"})
	}
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": "0.1.0",
	})
}
