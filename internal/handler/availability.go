package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/dominusnolan/court-booking/internal/availability"
	"github.com/dominusnolan/court-booking/internal/model"
	"github.com/dominusnolan/court-booking/internal/service"
)

// AvailabilityHandler serves the per-date availability matrix.
type AvailabilityHandler struct {
	Svc *service.AvailabilityService
}

type courtSlots struct {
	ID    int                                   `json:"id"`
	Name  string                                `json:"name"`
	Slots map[model.TimeLabel]availability.Cell `json:"slots"`
}

type availabilityResponse struct {
	Date            string            `json:"date"`
	TimeHeaders     []model.TimeLabel `json:"timeHeaders"`
	Courts          []courtSlots      `json:"courts"`
	PricePerSlot    string            `json:"pricePerSlot"`
	CurrencySymbol  string            `json:"currencySymbol"`
	ScheduleVersion uint64            `json:"scheduleVersion"`
}

// Get handles GET /v1/availability?date=YYYY-MM-DD.
func (h *AvailabilityHandler) Get(c echo.Context) error {
	m, sched, err := h.Svc.ForDate(c.Request().Context(), c.QueryParam("date"))
	if err != nil {
		return writeError(c, err)
	}
	out := availabilityResponse{
		Date:            m.Date,
		TimeHeaders:     m.Labels,
		Courts:          make([]courtSlots, 0, len(m.Courts)),
		PricePerSlot:    sched.FormatPrice(),
		CurrencySymbol:  sched.CurrencySymbol,
		ScheduleVersion: sched.Version,
	}
	for _, row := range m.Courts {
		out.Courts = append(out.Courts, courtSlots{ID: row.ID, Name: row.Name, Slots: row.Slots})
	}
	return c.JSON(http.StatusOK, out)
}
