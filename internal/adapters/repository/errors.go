package repository

import "errors"

// Sentinel kinds for snapshot store errors.
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrDriverNotFound  = errors.New("driver not found")
	ErrSessionClosed   = errors.New("session closed")
)
