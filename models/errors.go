package models

import "errors"

// Error taxonomy for report lifecycle operations. Handlers map these to
// HTTP status codes; everything else is treated as an internal error.
var (
	// ErrInvalidInput means the submission was malformed or missing
	// required fields. No state change occurred.
	ErrInvalidInput = errors.New("invalid input")

	// ErrAlreadyClaimed means the caller lost the claim race. This is an
	// expected outcome, not a failure.
	ErrAlreadyClaimed = errors.New("report already claimed")

	// ErrNotClaimant means the caller is not the responder holding the
	// report, or the report is not in a resolvable state.
	ErrNotClaimant = errors.New("report not claimed by this responder")

	// ErrNotFound means no report exists with the given id.
	ErrNotFound = errors.New("report not found")

	// ErrPersistence means the report store failed. Fatal to the request;
	// the caller may retry.
	ErrPersistence = errors.New("persistence failure")
)
