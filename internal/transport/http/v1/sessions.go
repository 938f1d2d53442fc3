package v1

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/b0ase/kintsugi/internal/domain"
)

type createSessionRequest struct {
	Participants []domain.Participant `json:"participants"`
}

// CreateSession starts a negotiation.
// POST /v1/sessions
func (h *Handler) CreateSession(c echo.Context) error {
	var req createSessionRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	session, err := h.service.CreateSession(c.Request().Context(), req.Participants)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusCreated, session)
}

// GetSession returns a session with its history.
// GET /v1/sessions/:session_id
func (h *Handler) GetSession(c echo.Context) error {
	session, err := h.service.GetSession(c.Request().Context(), c.Param("session_id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, session)
}

// GetSessionMessages returns the conversation history of a session.
// GET /v1/sessions/:session_id/messages
func (h *Handler) GetSessionMessages(c echo.Context) error {
	session, err := h.service.GetSession(c.Request().Context(), c.Param("session_id"))
	if err != nil {
		return h.fail(c, err)
	}
	messages := session.Messages
	if messages == nil {
		messages = []domain.Message{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"session_id": session.SessionID,
		"messages":   messages,
	})
}

// GetSessionEvents returns the audit trail of a session.
// GET /v1/sessions/:session_id/events?types=a,b&limit=n
func (h *Handler) GetSessionEvents(c echo.Context) error {
	limit := 0
	if l := c.QueryParam("limit"); l != "" {
		val, err := strconv.Atoi(l)
		if err != nil || val < 0 {
			return badRequest(c, "limit must be a non-negative integer")
		}
		limit = val
	}
	var types []string
	if t := c.QueryParam("types"); t != "" {
		for _, name := range strings.Split(t, ",") {
			if name = strings.TrimSpace(name); name != "" {
				types = append(types, name)
			}
		}
	}

	events, err := h.service.ListEvents(c.Request().Context(), c.Param("session_id"), types, limit)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"events": events,
	})
}

type updateStatusRequest struct {
	Status domain.SessionStatus `json:"status"`
	Reason string               `json:"reason"`
}

// UpdateStatus moves a session through its lifecycle.
// POST /v1/sessions/:session_id/status
func (h *Handler) UpdateStatus(c echo.Context) error {
	var req updateStatusRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	session, err := h.service.UpdateStatus(c.Request().Context(), c.Param("session_id"), req.Status, req.Reason)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, session)
}

type linkContractRequest struct {
	ContractID string `json:"contract_id"`
}

// LinkContract binds a contract to a session.
// POST /v1/sessions/:session_id/contract
func (h *Handler) LinkContract(c echo.Context) error {
	var req linkContractRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	session, err := h.service.LinkContract(c.Request().Context(), c.Param("session_id"), req.ContractID)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, session)
}
