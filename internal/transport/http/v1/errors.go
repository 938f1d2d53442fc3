package v1

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/b0ase/kintsugi/internal/adapter/llm"
	"github.com/b0ase/kintsugi/internal/service"
)

type errorBody struct {
	Error string `json:"error"`
}

// statusFor maps a service error to an HTTP status and client message.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrSessionNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, service.ErrInvalidStatus),
		errors.Is(err, service.ErrInvalidParticipants),
		errors.Is(err, service.ErrEmptyMessage),
		errors.Is(err, service.ErrContractRequired),
		errors.Is(err, service.ErrInvalidOrder):
		return http.StatusBadRequest, err.Error()
	case llm.IsProviderError(err), errors.Is(err, llm.ErrNoProvider), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "agent unavailable, retry"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func (h *Handler) fail(c echo.Context, err error) error {
	status, msg := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "path", c.Path(), "status", status, "error", err)
	}
	return c.JSON(status, errorBody{Error: msg})
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, errorBody{Error: msg})
}
