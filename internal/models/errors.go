package models

import (
	"errors"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")

	// ErrValidation covers precondition failures (too few categories, too few
	// distinct type labels). Jobs failing validation never start fetching.
	ErrValidation = errors.New("validation error")

	// ErrRateLimited marks provider throttling that survived the retry
	// budget. Reported distinctly so callers can suggest retrying later.
	ErrRateLimited = errors.New("embedding provider rate limited")

	// ErrProvider covers all other embedding-fetch failures.
	ErrProvider = errors.New("embedding provider error")

	// ErrStreamWrite marks hand-off file I/O failures.
	ErrStreamWrite = errors.New("stream write error")

	// ErrAborted marks cooperative cancellation. It is a "stopped" outcome,
	// not a failure.
	ErrAborted = errors.New("aborted")

	// ErrCacheUnavailable marks embedding-cache backend failures. Callers
	// treat it as an always-miss cache and never fail the job on it.
	ErrCacheUnavailable = errors.New("embedding cache unavailable")
)
