package service

import (
	"errors"
)

// Sentinel error kinds for this package. These allow errors.Is/As from callers.
var (
	ErrNotStarted     = errors.New("service not started")
	ErrSessionExists  = errors.New("session already exists")
	ErrBackpressure   = errors.New("scheduler at capacity")
	ErrTeardownFailed = errors.New("session teardown failed")
)
