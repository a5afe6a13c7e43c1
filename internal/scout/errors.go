package scout

import "errors"

// Sentinel errors returned across the core's boundary. Every public
// operation either returns a well-formed result or one of these kinds;
// nothing in the core panics outward.
var (
	// ErrInvalidTarget rejects job creation with no targets.
	ErrInvalidTarget = errors.New("job requires at least one target ref")
	// ErrInvalidType rejects an unknown job type.
	ErrInvalidType = errors.New("unknown job type")
	// ErrInvalidTransition guards terminal transitions on jobs that are
	// not processing, e.g. after a reaper reclaimed the job.
	ErrInvalidTransition = errors.New("job is not in processing state")
	// ErrNotFound is returned for lookups of absent jobs or pages.
	ErrNotFound = errors.New("not found")
)
