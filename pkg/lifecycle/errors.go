package lifecycle

import "errors"

var (
	// ErrSubscriptionNotFound is returned when a tenant has no subscription.
	ErrSubscriptionNotFound = errors.New("subscription not found")

	// ErrInvalidTransition is returned when an event is not allowed from the
	// subscription's current status (e.g. payment_success on cancelled).
	ErrInvalidTransition = errors.New("invalid subscription transition")

	// ErrStorageUnavailable is returned when the machine is built without storage.
	ErrStorageUnavailable = errors.New("storage unavailable")
)
