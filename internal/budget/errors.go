package budget

import "errors"

var (
	// ErrUnknownPolicy is returned when a budget policy name has no calculator.
	ErrUnknownPolicy = errors.New("unknown budget policy")

	// ErrInvalidLimits is returned when the connection or delay bounds are inverted or below one.
	ErrInvalidLimits = errors.New("invalid budget limits: min must be positive and not exceed max")
)
