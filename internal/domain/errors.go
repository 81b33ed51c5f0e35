package domain

import "errors"

var (
	// ErrNoClient is returned when a data operation runs against a session
	// that holds no credential. Raised before any network call so the
	// command layer can distinguish it from remote failures.
	ErrNoClient = errors.New("session has no authenticated client")

	// ErrRemote wraps transient portal failures (bad status, malformed
	// payload). Surfaces only after the retry budget is exhausted.
	ErrRemote = errors.New("portal request failed")

	// ErrEmptyPortal marks a fetch that completed but extracted zero
	// courses, which is treated as a transient availability problem.
	ErrEmptyPortal = errors.New("portal returned no courses")

	// ErrBadInterval rejects an alert whose interval is not a known enum
	// value at deploy time.
	ErrBadInterval = errors.New("unrecognized alert interval")
)
