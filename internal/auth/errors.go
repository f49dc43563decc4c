package auth

import "errors"

// Domain errors.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrTokenExpired       = errors.New("token has expired")
	ErrTokenInvalid       = errors.New("invalid token")
	ErrEmptySecret        = errors.New("signing secret is empty")
)
