package chaterrors

import "errors"

// Common errors
var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidInput    = errors.New("invalid input")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrArchiveDisabled = errors.New("archiving disabled for contact")
)
