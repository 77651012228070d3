package domain

import "errors"

// Request-scoped failures. Each is surfaced to the caller as a 4xx with its
// reason string; the unit errors live in package units.
var (
	ErrValidation        = errors.New("validation error")
	ErrPlaceNotFound     = errors.New("place not found")
	ErrScenarioAmbiguous = errors.New("scenario ambiguous")
	ErrInvariant         = errors.New("internal invariant violated")
	ErrJobNotFound       = errors.New("job not found")
)
