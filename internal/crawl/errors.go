package crawl

import "errors"

// Sentinel errors surfaced to worker-facing callers. Persistence
// failures are deliberately absent: they are logged where they occur
// and never abort an operation, because memory stays authoritative.
var (
	// ErrNotFound marks an unknown area or activity code.
	ErrNotFound = errors.New("not found")

	// ErrValidation marks malformed caller input (numeric bounds,
	// empty normalized text).
	ErrValidation = errors.New("validation failed")

	// ErrNoPendingWork means every area in the registry is finished,
	// leased, or empty; claimants should back off and retry later.
	ErrNoPendingWork = errors.New("no pending work")
)
