package sentinel

import "errors"

// Sentinel errors for storage facts. Stores return these (optionally wrapped)
// and services translate them into domain errors:
//   - ErrNotFound: the row does not exist
//   - ErrConflict: a write lost against a concurrent writer (version mismatch)
//   - ErrAlreadyUsed: a unique key (ballot claim, candidate key) is taken
//   - ErrHasDependents: a delete would orphan child rows
//   - ErrInvalidState: the row is in the wrong state for the operation
//   - ErrUnavailable: backing service temporarily unavailable
var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrAlreadyUsed   = errors.New("already used")
	ErrHasDependents = errors.New("has dependents")
	ErrInvalidState  = errors.New("invalid state")
	ErrUnavailable   = errors.New("unavailable")
)
