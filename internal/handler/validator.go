package handler

import (
	"github.com/go-playground/validator/v10"
)

// RequestValidator plugs validator/v10 into echo.Context.Validate.
type RequestValidator struct {
	v *validator.Validate
}

// NewRequestValidator returns a validator with required-struct checks on.
func NewRequestValidator() *RequestValidator {
	return &RequestValidator{v: validator.New(validator.WithRequiredStructEnabled())}
}

// Validate runs the struct's validate tags.
func (rv *RequestValidator) Validate(i any) error { return rv.v.Struct(i) }
