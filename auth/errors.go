package auth

import "errors"

var (
	// ErrMissingCredentials indicates the request carried no credentials.
	ErrMissingCredentials = errors.New("auth: missing credentials")

	// ErrInvalidCredentials indicates credentials were present but wrong.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")

	// ErrTokenExpired indicates an expired token or API key.
	ErrTokenExpired = errors.New("auth: token expired")

	// ErrTokenMalformed indicates a token that could not be parsed.
	ErrTokenMalformed = errors.New("auth: token malformed")

	// ErrForbidden indicates an authenticated identity lacks access.
	ErrForbidden = errors.New("auth: access denied")

	// ErrInvalidConfig indicates an unusable auth configuration.
	ErrInvalidConfig = errors.New("auth: invalid config")
)
