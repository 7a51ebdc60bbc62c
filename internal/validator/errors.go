package validator

import "errors"

// ErrMalformedValidators is returned when a validators section is not a mapping.
var ErrMalformedValidators = errors.New("malformed validators section")
