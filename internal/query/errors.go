package query

import "errors"

// Sentinel errors. Each is wrapped with fmt.Errorf for context at the
// call site rather than a custom error-code type.
var (
	ErrInvalidQuery     = errors.New("query: invalid query")
	ErrTimeout          = errors.New("query: timed out")
	ErrStorageError     = errors.New("query: storage error")
	ErrIndexUnavailable = errors.New("query: index unavailable")
	ErrCapacityExceeded = errors.New("query: capacity exceeded")
)
