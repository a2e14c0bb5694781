// Package repository defines the snapshot store interface and errors.
//
// The snapshot store holds the latest known state per driver and per
// session. The delta detector is the only writer for a given session;
// any number of readers (enricher, diagnostics) may read concurrently
// and always observe whole, untorn values.
package repository

import (
	"context"

	"github.com/okian/stint/internal/domain/model"
)

// Store provides read/write access to the latest-known race state.
type Store interface {
	// Get returns the driver state, or ErrDriverNotFound.
	Get(ctx context.Context, session, driver string) (model.DriverState, error)

	// Upsert writes the driver state. Returns ErrSessionNotFound for an
	// unknown session and ErrSessionClosed after teardown.
	Upsert(ctx context.Context, session string, st model.DriverState) error

	// Drivers returns all driver states for a session.
	Drivers(ctx context.Context, session string) ([]model.DriverState, error)

	// GetSession returns the session state, or ErrSessionNotFound.
	GetSession(ctx context.Context, session string) (model.SessionState, error)

	// PutSession creates or updates a session state.
	PutSession(ctx context.Context, st model.SessionState) error

	// Teardown clears a session's driver states and marks the session
	// closed. The closed SessionState is retained read-only.
	Teardown(ctx context.Context, session string) error

	// Counts returns the number of open sessions and tracked drivers.
	Counts(ctx context.Context) (sessions, drivers int)
}
