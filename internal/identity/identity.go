// Package identity defines the session identity provider the sync core
// consumes, plus an in-memory implementation.
package identity

import (
	"context"
	"errors"
)

var (
	// ErrHandleTaken is the distinguished failure for a duplicate handle.
	ErrHandleTaken = errors.New("handle already in use")

	// ErrInvalidCredentials is returned when authentication fails.
	ErrInvalidCredentials = errors.New("invalid handle or secret")

	// ErrNoPrincipal is returned when an operation needs an authenticated
	// principal and none is present.
	ErrNoPrincipal = errors.New("not authenticated")
)

// Provider supplies principal identity and its lifecycle. The core passes
// principal ids into components explicitly; Provider is only consulted at the
// session boundary (login, registration, sign-out).
type Provider interface {
	// CurrentPrincipalID returns the authenticated principal for this
	// session, if any.
	CurrentPrincipalID() (string, bool)

	// CreatePrincipal registers a new principal. A duplicate handle fails
	// with ErrHandleTaken.
	CreatePrincipal(ctx context.Context, handle, secret string) (string, error)

	// Authenticate verifies credentials and binds the principal to this
	// session.
	Authenticate(ctx context.Context, handle, secret string) (string, error)

	// DeletePrincipal removes a principal entirely. Used to roll back a
	// partially-completed registration.
	DeletePrincipal(ctx context.Context, principalID string) error

	// SignOut clears the session principal.
	SignOut()
}
