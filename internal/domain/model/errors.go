package model

import (
	"errors"
	"fmt"
)

// Sentinel kinds for update validation errors.
var (
	ErrInvalidUpdate = errors.New("invalid update")
)

func errInvalid(reason string) error {
	return fmt.Errorf("%w: %s", ErrInvalidUpdate, reason)
}
