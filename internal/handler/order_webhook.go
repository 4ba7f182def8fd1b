package handler

import (
	"crypto/subtle"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/dominusnolan/court-booking/internal/queue"
	"github.com/dominusnolan/court-booking/internal/service"
)

// HeaderWebhookSecret carries the shared secret of the commerce webhook.
const HeaderWebhookSecret = "X-Webhook-Secret"

// OrderWebhookHandler accepts order events pushed over HTTP.  It applies
// the same payload the broker consumer does.
type OrderWebhookHandler struct {
	Svc    *service.BookingService
	Secret string
}

// Receive handles POST /v1/orders/events.  Transient failures answer 503 so
// the sender redelivers.
func (h *OrderWebhookHandler) Receive(c echo.Context) error {
	got := c.Request().Header.Get(HeaderWebhookSecret)
	if h.Secret == "" || subtle.ConstantTimeCompare([]byte(got), []byte(h.Secret)) != 1 {
		return c.JSON(http.StatusUnauthorized, apiError{Error: "unauthenticated", Message: "invalid webhook secret"})
	}
	var ev queue.OrderEvent
	if err := bindValid(c, &ev); err != nil {
		return writeError(c, err)
	}
	res, err := h.Svc.ApplyOrderEvent(c.Request().Context(), ev)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}
