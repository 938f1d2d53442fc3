package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/b0ase/kintsugi/internal/service"
)

// PlaceOrder adds a limit order to a token's book and queues matching.
// POST /v1/exchange/orders
func (h *Handler) PlaceOrder(c echo.Context) error {
	var req service.PlaceOrderRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	order, err := h.service.PlaceOrder(c.Request().Context(), req)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusCreated, order)
}
