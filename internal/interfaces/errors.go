package interfaces

import "errors"

// Sentinel errors surfaced by the stores. The HTTP layer translates these
// to response codes; nothing below the handlers knows about HTTP.
var (
	// ErrNotFound - the requested project, job or user does not exist
	ErrNotFound = errors.New("not found")

	// ErrConflict - insert would violate a uniqueness constraint
	ErrConflict = errors.New("already exists")

	// ErrAlreadyClaimed - the conditional claim update matched no row
	ErrAlreadyClaimed = errors.New("already claimed")

	// ErrUnavailable - the backing store cannot be reached
	ErrUnavailable = errors.New("database unavailable")
)
