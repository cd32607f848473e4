package model

import "errors"

// Error kinds exposed by the core. Callers distinguish them with
// errors.Is; the REST layer maps them to transport status codes.
var (
	// ErrNotFound marks an unknown device, hostname, category, or
	// aggregator lookup.
	ErrNotFound = errors.New("not found")

	// ErrConflict marks a duplicate create (hostname, category name,
	// aggregator token) or a delete blocked by existing references.
	ErrConflict = errors.New("conflict")

	// ErrInvalidInput marks input rejected before any write: severity out
	// of range, bad pagination combination, malformed sample.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnavailable marks an unreachable upstream store. The aggregation
	// job aborts the affected metric only and retries next tick.
	ErrUnavailable = errors.New("upstream unavailable")
)
