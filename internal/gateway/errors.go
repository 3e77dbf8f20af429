package gateway

import "errors"

var (
	ErrValidation         = errors.New("validation failed")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrMissingToken       = errors.New("missing token")
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrForbidden          = errors.New("habit belongs to another user")
	ErrVersionConflict    = errors.New("habit was modified concurrently")
)
