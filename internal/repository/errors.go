// Package repository holds the reservation ledger: the authoritative record
// of which (date, court, time) cells are held and by whom.  The sentinel
// values below let callers tell the expected outcomes apart from failures.
package repository

import "errors"

// ErrForbidden is returned when a holder tries to release or transfer a
// record owned by someone else.  Handlers should translate this into an
// HTTP 403 response.
var ErrForbidden = errors.New("forbidden")

// ErrConflict is returned by Reserve when the key is already held.  It is
// an expected concurrency outcome, not a system failure; handlers should
// translate it into an HTTP 409 response.
var ErrConflict = errors.New("conflict")

// ErrNotFound is returned when no record exists for the key or holder.
// Release and confirm callers treat it as a benign no-op.
var ErrNotFound = errors.New("not found")
