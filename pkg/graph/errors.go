package graph

import "errors"

// Predefined errors shared by the lifecycle engines. Operations wrap these
// with context so callers can branch with errors.Is while still seeing a
// descriptive message.
var (
	// ErrNotFound indicates that a referenced record or session is absent.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidState indicates that the target exists but is the wrong
	// kind for the operation (e.g., promoting a non-working-memory record,
	// ending a non-active session).
	ErrInvalidState = errors.New("invalid record state")

	// ErrLimitExceeded indicates that a per-session working-memory
	// capacity limit was reached.
	ErrLimitExceeded = errors.New("working memory limit exceeded")

	// ErrInvalidArgument indicates that input validation failed before any
	// mutation took place.
	ErrInvalidArgument = errors.New("invalid argument")
)
