package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/dominusnolan/court-booking/internal/middleware"
	"github.com/dominusnolan/court-booking/internal/service"
)

// SlotHandler lets an authenticated customer hold and free slots.
type SlotHandler struct {
	Svc *service.BookingService
}

type selectResponse struct {
	OK        bool      `json:"ok"`
	SlotKey   string    `json:"slotKey"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type deselectRequest struct {
	SlotKey string `json:"slotKey" validate:"required,max=64"`
}

// Select handles POST /v1/slots/select.
func (h *SlotHandler) Select(c echo.Context) error {
	var req service.SelectRequest
	if err := bindValid(c, &req); err != nil {
		return writeError(c, err)
	}
	res, err := h.Svc.Select(c.Request().Context(), middleware.UserID(c), req)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, selectResponse{OK: true, SlotKey: res.SlotKey, ExpiresAt: res.ExpiresAt})
}

// Deselect handles POST /v1/slots/deselect.  Freeing a hold that is already
// gone succeeds.
func (h *SlotHandler) Deselect(c echo.Context) error {
	var req deselectRequest
	if err := bindValid(c, &req); err != nil {
		return writeError(c, err)
	}
	if err := h.Svc.Deselect(c.Request().Context(), middleware.UserID(c), req.SlotKey); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"ok": true})
}

// Mine handles GET /v1/slots/mine.
func (h *SlotHandler) Mine(c echo.Context) error {
	out, err := h.Svc.Mine(c.Request().Context(), middleware.UserID(c))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}
