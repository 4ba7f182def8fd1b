package handler

import (
	"context"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/dominusnolan/court-booking/internal/model"
	"github.com/dominusnolan/court-booking/internal/service"
)

// ScheduleReplacer swaps the active schedule snapshot.
type ScheduleReplacer interface {
	Replace(next model.Schedule) (*model.Schedule, error)
}

// CachePurger drops cached GET responses.
type CachePurger interface {
	Purge(ctx context.Context) error
}

// ScheduleHandler exposes the active configuration and lets admins replace it.
type ScheduleHandler struct {
	Availability *service.AvailabilityService
	Store        ScheduleReplacer
	Cache        CachePurger
}

type scheduleResponse struct {
	*model.Schedule
	Courts       []model.Court     `json:"courts"`
	TimeHeaders  []model.TimeLabel `json:"time_headers"`
	PricePerSlot string            `json:"price_per_slot"`
}

func (h *ScheduleHandler) render(c echo.Context, status int) error {
	labels, sched := h.Availability.Labels()
	return c.JSON(status, scheduleResponse{
		Schedule:     sched,
		Courts:       sched.Courts(),
		TimeHeaders:  labels,
		PricePerSlot: sched.FormatPrice(),
	})
}

// Get handles GET /v1/schedule.
func (h *ScheduleHandler) Get(c echo.Context) error { return h.render(c, http.StatusOK) }

// Replace handles PUT /v1/admin/schedule.  The body uses the same document
// shape as GET; version and derived fields are ignored.
func (h *ScheduleHandler) Replace(c echo.Context) error {
	var next model.Schedule
	if err := c.Bind(&next); err != nil {
		return writeError(c, service.ErrValidation)
	}
	applied, err := h.Store.Replace(next)
	if err != nil {
		return writeError(c, err)
	}
	if h.Cache != nil {
		if err := h.Cache.Purge(c.Request().Context()); err != nil {
			log.Printf("schedule: cache purge after version %d failed: %v", applied.Version, err)
		}
	}
	log.Printf("schedule: replaced, version=%d courts=%d", applied.Version, applied.CourtCount)
	return h.render(c, http.StatusOK)
}
