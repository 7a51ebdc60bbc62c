package strategy

import "errors"

// ErrUnknownKind is returned when a strategy kind has no constructor.
var ErrUnknownKind = errors.New("unknown strategy kind")
