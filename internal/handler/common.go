// Package handler exposes the HTTP surface of the booking engine.  Handlers
// bind explicit request structs, delegate to the service layer and map its
// sentinel errors onto status codes.
package handler

import (
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/dominusnolan/court-booking/internal/model"
	"github.com/dominusnolan/court-booking/internal/repository"
	"github.com/dominusnolan/court-booking/internal/service"
)

// apiError is the body of every non-2xx response.
type apiError struct {
	Error    string `json:"error"`
	Message  string `json:"message"`
	Conflict bool   `json:"conflict,omitempty"`
}

// bindValid binds the request body into v and runs the registered validator.
func bindValid(c echo.Context, v any) error {
	if err := c.Bind(v); err != nil {
		return fmt.Errorf("%w: malformed request body", service.ErrValidation)
	}
	if err := c.Validate(v); err != nil {
		return fmt.Errorf("%w: %v", service.ErrValidation, err)
	}
	return nil
}

// writeError maps a service or ledger error to its response.
func writeError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, service.ErrValidation), errors.Is(err, model.ErrInvalidSchedule):
		return c.JSON(http.StatusBadRequest, apiError{Error: "validation_failed", Message: err.Error()})
	case errors.Is(err, service.ErrUnauthenticated):
		return c.JSON(http.StatusUnauthorized, apiError{Error: "unauthenticated", Message: err.Error()})
	case errors.Is(err, repository.ErrForbidden):
		return c.JSON(http.StatusForbidden, apiError{Error: "forbidden", Message: "slot is held by someone else"})
	case errors.Is(err, repository.ErrConflict):
		return c.JSON(http.StatusConflict, apiError{Error: "conflict", Message: "slot no longer available", Conflict: true})
	case errors.Is(err, service.ErrSlotUnavailable):
		return c.JSON(http.StatusConflict, apiError{Error: "slot_unavailable", Message: err.Error(), Conflict: true})
	case errors.Is(err, service.ErrUpstreamUnavailable):
		log.Printf("http: %s %s: %v", c.Request().Method, c.Path(), err)
		return c.JSON(http.StatusServiceUnavailable, apiError{Error: "upstream_unavailable", Message: "temporarily unavailable, retry"})
	}
	log.Printf("http: %s %s: unexpected error: %v", c.Request().Method, c.Path(), err)
	return c.JSON(http.StatusInternalServerError, apiError{Error: "internal", Message: "internal error"})
}
