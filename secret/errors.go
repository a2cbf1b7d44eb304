package secret

import "errors"

var (
	// ErrMissingEnv indicates ${VAR} named an unset environment variable.
	ErrMissingEnv = errors.New("secret: missing environment variable")

	// ErrProviderNotFound indicates a reference named an unknown provider.
	ErrProviderNotFound = errors.New("secret: provider not registered")

	// ErrDuplicateProvider indicates a provider name was registered twice.
	ErrDuplicateProvider = errors.New("secret: provider already registered")

	// ErrInvalidProvider indicates a registration without a name or factory.
	ErrInvalidProvider = errors.New("secret: invalid provider registration")

	// ErrNotFound indicates a provider has no secret under a reference.
	ErrNotFound = errors.New("secret: not found")

	// ErrEmptySecret indicates a strict resolver received an empty value.
	ErrEmptySecret = errors.New("secret: empty value")
)
