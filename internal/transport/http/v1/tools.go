package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// ListTools returns the tool catalog, gated by status when given.
// GET /v1/tools?status=
func (h *Handler) ListTools(c echo.Context) error {
	status := c.QueryParam("status")
	tools, err := h.service.ListTools(status)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status": status,
		"tools":  tools,
		"count":  len(tools),
	})
}
