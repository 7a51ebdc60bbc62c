package core

import "errors"

var (
	// ErrNilRedisClient is returned when a Redis core is built without a client.
	ErrNilRedisClient = errors.New("redis client is nil")

	// ErrInvalidCookies is returned when a cookies file is neither a name to
	// value object nor a list of {name, value} entries.
	ErrInvalidCookies = errors.New("invalid cookies file")
)
