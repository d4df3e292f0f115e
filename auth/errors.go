package auth

import "errors"

var (
	// ErrNoCredentials means the request carries nothing the authenticator
	// understands. A Chain moves on to its next member.
	ErrNoCredentials = errors.New("auth: no credentials")

	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrTokenExpired       = errors.New("auth: token expired")
	ErrTokenMalformed     = errors.New("auth: token malformed")
	ErrForbidden          = errors.New("auth: access denied")
)

// rejected reports whether err is a verdict on the caller's credentials
// rather than an internal failure.
func rejected(err error) bool {
	return errors.Is(err, ErrInvalidCredentials) ||
		errors.Is(err, ErrTokenExpired) ||
		errors.Is(err, ErrTokenMalformed)
}
