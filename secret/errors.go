package secret

import "errors"

var (
	// ErrMissingEnv reports ${VAR} references to unset variables.
	ErrMissingEnv = errors.New("secret: missing environment variables")

	// ErrUnknownProvider reports a reference to an unregistered provider.
	ErrUnknownProvider = errors.New("secret: provider not registered")

	// ErrEmptySecret is returned in strict mode when a provider answers
	// with an empty value.
	ErrEmptySecret = errors.New("secret: empty value")

	// ErrNotFound is returned by providers that have no value for a ref.
	ErrNotFound = errors.New("secret: not found")
)
