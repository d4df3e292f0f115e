package auth

import (
	"context"
	"errors"
	"net/http"
)

// Authenticator resolves the credentials carried in request headers.
//
// Contract:
//   - Concurrency: safe for concurrent use.
//   - Returns ErrNoCredentials when h carries nothing it understands.
//   - Rejected credentials yield an error wrapping ErrInvalidCredentials,
//     ErrTokenExpired or ErrTokenMalformed. Any other error is an internal
//     failure, such as an unreachable key store.
type Authenticator interface {
	Authenticate(ctx context.Context, h http.Header) (*Identity, error)
}

// AuthenticatorFunc adapts a function to Authenticator.
type AuthenticatorFunc func(ctx context.Context, h http.Header) (*Identity, error)

// Authenticate calls f.
func (f AuthenticatorFunc) Authenticate(ctx context.Context, h http.Header) (*Identity, error) {
	return f(ctx, h)
}

// Chain tries each member in order. The first member that finds
// credentials decides: its identity or its rejection is returned, and
// later members are not consulted. A chain where nobody finds
// credentials returns ErrNoCredentials.
func Chain(members ...Authenticator) Authenticator {
	return chain(members)
}

type chain []Authenticator

func (c chain) Authenticate(ctx context.Context, h http.Header) (*Identity, error) {
	for _, a := range c {
		id, err := a.Authenticate(ctx, h)
		if errors.Is(err, ErrNoCredentials) {
			continue
		}
		return id, err
	}
	return nil, ErrNoCredentials
}
