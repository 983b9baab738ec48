package tcp

import "errors"

// Sentinel errors returned by Server methods. Matches the negated-errno
// channel described in spec.md §6/§7, expressed as ordinary Go errors
// instead of an out-of-band integer.
var (
	// ErrClosed is returned by Accept once Close has run.
	ErrClosed = errors.New("tcp: server closed")

	// ErrRateLimited is returned by Accept when the configured acceptance
	// rate limiter rejects a remote address.
	ErrRateLimited = errors.New("tcp: accept rate limit exceeded")
)
