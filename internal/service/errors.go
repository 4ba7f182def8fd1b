// Package service holds the booking lifecycle: it validates customer and
// order requests, drives the reservation ledger and tells the commerce side
// what happened.
package service

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks malformed input.  Nothing was mutated.
	ErrValidation = errors.New("validation failed")
	// ErrUnauthenticated is returned when a ledger mutation is attempted
	// without a customer identity.
	ErrUnauthenticated = errors.New("authentication required")
	// ErrSlotUnavailable means an exclusion rule blocks the slot.
	ErrSlotUnavailable = errors.New("slot is not bookable")
	// ErrUpstreamUnavailable wraps ledger or broker failures.  The operation
	// is safe to retry.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)

// IsRetryable reports whether err is transient.
func IsRetryable(err error) bool { return errors.Is(err, ErrUpstreamUnavailable) }

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func upstream(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrUpstreamUnavailable, op, err)
}
