package usage

import "errors"

var (
	// ErrInvalidAmount is returned for negative increment/decrement amounts.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrUnknownMetric is returned for metrics outside the registry.
	ErrUnknownMetric = errors.New("unknown metric")

	// ErrLimitExceeded is returned by ConsumeWithinLimit when the plan limit
	// would be crossed.
	ErrLimitExceeded = errors.New("usage limit exceeded")

	// ErrStorageUnavailable is returned when the meter is built without storage.
	ErrStorageUnavailable = errors.New("storage unavailable")
)
