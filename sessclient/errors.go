package sessclient

import "errors"

// ErrTooManyOutstandingRequests is returned (and handed to the
// caller's callback) when Request is called with the queue already
// at capacity. Named and typed the way the teacher names its own
// sentinel errors (e.g. hdr.go's ErrTooLarge).
var ErrTooManyOutstandingRequests = errors.New("sessclient: too many outstanding requests")

// Stats are monotonic counters for observability, not part of the
// wire protocol.
type Stats struct {
	Sent    uint64
	Retried uint64
	Replied uint64
	Dropped uint64
}
