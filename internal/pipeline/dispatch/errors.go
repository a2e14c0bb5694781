package dispatch

import "errors"

// Sentinel kinds for dispatcher errors.
var (
	ErrSequenceViolation = errors.New("sequence number collision")
)
