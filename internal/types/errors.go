package types

import "errors"

// Sentinel errors shared by services. Wrap with fmt.Errorf("...: %w", ErrX)
// and classify with errors.Is.
var (
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrConflict     = errors.New("conflict")
	ErrInvalid      = errors.New("invalid argument")
	ErrUnavailable  = errors.New("unavailable")
)
