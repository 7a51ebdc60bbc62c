package config

import "errors"

// Configuration validation errors returned by Config.Validate.
var (
	// ErrUnknownBudget is returned when the budget policy is not known.
	ErrUnknownBudget = errors.New("unknown budget policy")

	// ErrInvalidConnections is returned when the connection bounds are not
	// positive or are inverted.
	ErrInvalidConnections = errors.New("invalid connections: need 1 <= min <= max")

	// ErrInvalidDelay is returned when the delay bounds are negative or inverted.
	ErrInvalidDelay = errors.New("invalid delay: need 0 <= min <= max")

	// ErrInvalidWindow is returned when the category window bounds are not
	// positive or are inverted.
	ErrInvalidWindow = errors.New("invalid window: need 1 <= min <= max")

	// ErrInvalidTimeout is returned when the timeout is not positive.
	ErrInvalidTimeout = errors.New("invalid timeout: must be positive")

	// ErrInvalidDomain is returned when the domain override is not an
	// absolute http(s) URL.
	ErrInvalidDomain = errors.New("invalid domain: must be an absolute http or https URL")

	// ErrInvalidOnionDomain is returned when the domain override is an
	// onion address that is not a valid v3 address.
	ErrInvalidOnionDomain = errors.New("invalid onion domain: not a v3 onion address")

	// ErrConflictingReportFormats is returned when both --json and --markdown
	// are specified.
	ErrConflictingReportFormats = errors.New("conflicting report formats: --json and --markdown cannot be used together")

	// ErrInvalidMaxBodySize is returned when the max body size is negative.
	ErrInvalidMaxBodySize = errors.New("invalid max body size: must be non-negative")

	// ErrUnknownCore is returned when the core is neither local nor redis.
	ErrUnknownCore = errors.New("unknown core: must be local or redis")

	// ErrInvalidMaxRescans is returned when max rescans is negative.
	ErrInvalidMaxRescans = errors.New("invalid max rescans: must be non-negative")

	// ErrInvalidPattern is returned when an ignore or follow pattern is not
	// a valid glob.
	ErrInvalidPattern = errors.New("invalid URL pattern")

	// ErrEmptyMarketName is returned when the config file has a market
	// entry without a name.
	ErrEmptyMarketName = errors.New("market entry without a name")
)
