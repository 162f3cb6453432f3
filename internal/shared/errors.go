package shared

import "errors"

// Error taxonomy shared across the engine. Handlers and services match with
// errors.Is; wrapped messages carry the actionable detail.
var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates a bad role, edge, or payload. Permanent.
	ErrValidation = errors.New("validation failed")
	// ErrForbidden indicates the actor's role is not authorised for the edge.
	ErrForbidden = errors.New("role not authorised")
	// ErrConflict indicates an optimistic-concurrency mismatch. The engine
	// retries once internally before surfacing it.
	ErrConflict = errors.New("document changed concurrently")
	// ErrAllocation indicates the sequence allocator exhausted its retry
	// budget. Transient; the caller may retry the whole operation.
	ErrAllocation = errors.New("sequence allocation failed")
)
