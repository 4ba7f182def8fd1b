// Package router registers the HTTP routes of the booking API.
package router

import (
	"github.com/labstack/echo/v4"

	"github.com/dominusnolan/court-booking/internal/handler"
	"github.com/dominusnolan/court-booking/internal/middleware"
)

// Deps carries everything the routes need.  Nil optional members disable
// the routes or middleware that use them.
type Deps struct {
	JWTSecret     string
	Availability  *handler.AvailabilityHandler
	Schedule      *handler.ScheduleHandler
	Slots         *handler.SlotHandler
	Orders        *handler.OrderWebhookHandler
	Readiness     *handler.ReadinessHandler
	Cache         *middleware.ResponseCache
	SelectLimiter echo.MiddlewareFunc
}

// RegisterRoutes mounts probes, the public read API, the customer slot API,
// the order webhook and the admin schedule endpoint.
func RegisterRoutes(e *echo.Echo, d Deps) {
	e.GET("/healthz", handler.Health)
	if d.Readiness != nil {
		e.GET("/readyz", d.Readiness.Ready)
	}

	// Availability changes with every hold, so only the schedule is cached.
	e.GET("/v1/availability", d.Availability.Get)
	e.GET("/v1/schedule", d.Schedule.Get, d.Cache.Middleware())

	slots := e.Group("/v1/slots",
		middleware.JWTAuth(d.JWTSecret),
		middleware.RequireRole(middleware.RoleCustomer),
	)
	if d.SelectLimiter != nil {
		slots.POST("/select", d.Slots.Select, d.SelectLimiter)
	} else {
		slots.POST("/select", d.Slots.Select)
	}
	slots.POST("/deselect", d.Slots.Deselect)
	slots.GET("/mine", d.Slots.Mine)

	if d.Orders != nil {
		e.POST("/v1/orders/events", d.Orders.Receive)
	}

	admin := e.Group("/v1/admin",
		middleware.JWTAuth(d.JWTSecret),
		middleware.RequireRole(middleware.RoleAdmin),
	)
	admin.PUT("/schedule", d.Schedule.Replace)
}
