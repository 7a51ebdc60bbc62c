package crawler

import "errors"

// ErrInvalidDomain is returned when a market domain is not an absolute URL.
var ErrInvalidDomain = errors.New("market domain must be an absolute URL")
