package auth

import (
	"context"
	"slices"
	"time"
)

// Method records how an Identity was established.
type Method string

const (
	MethodSession   Method = "session"
	MethodAPIKey    Method = "api_key"
	MethodAnonymous Method = "anonymous"
)

const (
	// AnonymousPrincipal owns everything cached for readers without
	// credentials.
	AnonymousPrincipal = "anonymous"

	// RoleOperator may administer the cache daemon.
	RoleOperator = "operator"
)

// Identity is the reader or operator behind a request.
type Identity struct {
	Principal string
	Roles     []string
	Method    Method

	// ExpiresAt is zero for identities that never expire.
	ExpiresAt time.Time

	// Claims holds extra attributes, such as the key ID of an API key or
	// the raw claims of a session token.
	Claims map[string]any
}

// Anonymous returns a fresh identity for a reader without credentials.
func Anonymous() *Identity {
	return &Identity{Principal: AnonymousPrincipal, Method: MethodAnonymous}
}

// HasRole reports whether id carries role. A nil identity has no roles.
func (id *Identity) HasRole(role string) bool {
	return id != nil && slices.Contains(id.Roles, role)
}

// IsAnonymous reports whether id stands for a reader without credentials.
func (id *Identity) IsAnonymous() bool {
	return id == nil || id.Method == MethodAnonymous || id.Principal == ""
}

// ExpiredAt reports whether id is no longer valid at now.
func (id *Identity) ExpiredAt(now time.Time) bool {
	return !id.ExpiresAt.IsZero() && !now.Before(id.ExpiresAt)
}

type identityKey struct{}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext returns the identity in ctx, or nil.
func IdentityFromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey{}).(*Identity)
	return id
}

// PrincipalFromContext returns the principal in ctx, or "" when ctx
// carries no identity.
func PrincipalFromContext(ctx context.Context) string {
	if id := IdentityFromContext(ctx); id != nil {
		return id.Principal
	}
	return ""
}
