package v1

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/b0ase/kintsugi/internal/service"
)

type chatRequest struct {
	Message  string `json:"message"`
	SenderID string `json:"sender_id"`
}

// Chat runs one turn with tool execution.
// POST /v1/sessions/:session_id/chat
func (h *Handler) Chat(c echo.Context) error {
	var req chatRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	result, err := h.service.Chat(c.Request().Context(), c.Param("session_id"), req.Message, req.SenderID)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

// streamError is the terminal frame of a stream that failed after it began.
type streamError struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// Stream runs one streamed turn as server-sent events. Every frame is
// "data: <json>"; a successful stream ends with a done frame.
// POST /v1/sessions/:session_id/stream
func (h *Handler) Stream(c echo.Context) error {
	var req chatRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	flusher, ok := c.Response().Writer.(http.Flusher)
	if !ok {
		return c.JSON(http.StatusInternalServerError, errorBody{Error: "streaming not supported"})
	}

	// Headers go out with the first frame; earlier failures get a JSON error.
	started := false
	writeFrame := func(v any) error {
		if !started {
			header := c.Response().Header()
			header.Set("Content-Type", "text/event-stream")
			header.Set("Cache-Control", "no-cache")
			header.Set("Connection", "keep-alive")
			c.Response().WriteHeader(http.StatusOK)
			started = true
		}
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(c.Response().Writer, "data: %s\n\n", data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	ctx := c.Request().Context()
	err := h.service.StreamChat(ctx, c.Param("session_id"), req.Message, req.SenderID, func(ev service.StreamEvent) error {
		return writeFrame(ev)
	})
	if err == nil {
		return nil
	}
	if !started {
		return h.fail(c, err)
	}

	// Can't change status code after writing response
	status, msg := statusFor(err)
	h.logger.Warn("stream ended with error", "session_id", c.Param("session_id"), "status", status, "error", err)
	if ctx.Err() == nil {
		_ = writeFrame(streamError{Type: "error", Error: msg})
	}
	return nil
}
