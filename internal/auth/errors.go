package auth

import "errors"

var (
	ErrNotFound           = errors.New("auth: not found")
	ErrUnauthenticated    = errors.New("auth: authentication required")
	ErrForbidden          = errors.New("auth: forbidden")
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	// ErrInvalidToken indicates the token failed validation.
	ErrInvalidToken = errors.New("invalid token")
)
