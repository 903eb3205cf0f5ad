package webhook

import "errors"

var (
	// ErrEventNotFound is returned when no event matches the given id or key.
	ErrEventNotFound = errors.New("webhook event not found")

	// ErrStatusConflict is returned when a conditional status transition finds
	// the event in an unexpected state (e.g. two workers racing for the same event).
	ErrStatusConflict = errors.New("webhook event status conflict")

	// ErrNotDeadLettered is returned by DLQ operations on events outside the DLQ.
	ErrNotDeadLettered = errors.New("webhook event is not dead-lettered")

	// ErrNoHandler is returned when no handler is registered for an event type.
	ErrNoHandler = errors.New("no handler registered for event type")

	// ErrStorageUnavailable is returned when the engine is built without storage.
	ErrStorageUnavailable = errors.New("storage unavailable")
)
