package domain

import "errors"

var (
	// ErrDuplicateKey is returned by a RowStore when the interaction row
	// already exists. The mutator treats it as success (idempotent insert).
	ErrDuplicateKey = errors.New("interaction row already exists")

	// ErrStoreUnavailable is returned when the durable store cannot be
	// reached. It maps to a revert of the optimistic state.
	ErrStoreUnavailable = errors.New("durable store unavailable")

	// ErrMalformedPayload marks a push event missing expected fields.
	ErrMalformedPayload = errors.New("malformed push payload")

	// ErrViewNotOpen is returned for mutations against content no view
	// currently displays.
	ErrViewNotOpen = errors.New("content view not open")

	// ErrViewClosed is returned from operations on a closed view.
	ErrViewClosed = errors.New("view already closed")

	// ErrEngineStopped is returned when the engine is shutting down.
	ErrEngineStopped = errors.New("engine stopped")
)
