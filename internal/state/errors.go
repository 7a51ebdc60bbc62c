package state

import "errors"

var (
	// ErrMarketRequired is returned when a state is opened without a market name.
	ErrMarketRequired = errors.New("market name is required")

	// ErrInvalidWindow is returned when the window bounds are not ordered.
	ErrInvalidWindow = errors.New("window bounds must satisfy 0 < min <= max")
)
