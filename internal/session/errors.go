package session

import "errors"

// Registry errors.
var (
	ErrNilHandle     = errors.New("session handle cannot be nil")
	ErrInvalidUserID = errors.New("user id must be positive")
)
