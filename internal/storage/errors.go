package storage

import "errors"

// Sentinel errors surfaced by the engine. The dispatcher maps each kind to a
// distinctly labeled response.
var (
	// ErrNotFound indicates the requested message, thread, or participant
	// does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates a unique constraint violation or conflicting
	// state, such as registering an existing participant.
	ErrConflict = errors.New("conflict")

	// ErrCycle indicates a dependency edge would create a cycle.
	ErrCycle = errors.New("dependency cycle detected")

	// ErrValidation indicates input failed a schema or value constraint.
	ErrValidation = errors.New("validation failed")

	// ErrPermission indicates the requester lacks authorization.
	ErrPermission = errors.New("permission denied")
)
