package domain

import "errors"

// ErrNotFound is returned by repo and service functions when the requested
// geotag or position does not exist.
// Handlers should map this to HTTP 404.
var ErrNotFound = errors.New("not found")

// ErrValidation is returned by service functions when input fails business
// rule validation (e.g. malformed URN, missing coordinate pair).
// Handlers should map this to HTTP 422 Unprocessable Entity.
var ErrValidation = errors.New("validation error")

// ErrForbidden is returned when a caller attempts a mutation they are not
// allowed to perform: touching a sticky geotag without the admin role, or
// calling an admin-only operation.
// Handlers should map this to HTTP 403.
var ErrForbidden = errors.New("forbidden")

// ErrConflict is returned when an optimistic write loses to a concurrent
// update of the same geotag, or when two callers race to create a geotag
// for the same URN. The losing operation may be retried.
// Handlers should map this to HTTP 409.
var ErrConflict = errors.New("conflict")
