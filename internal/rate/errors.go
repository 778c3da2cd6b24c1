package rate

import "errors"

var (
	// ErrRateLimited is returned together with the denying Decision.
	ErrRateLimited = errors.New("rate limited")
	// ErrRedisUnavailable wraps any failure talking to the counting store.
	ErrRedisUnavailable = errors.New("redis unavailable")
	// ErrInvalidPolicy is returned for non-positive limits or windows.
	ErrInvalidPolicy = errors.New("invalid rate limit policy")
)
