package types

import "errors"

// Validation errors. Their text is shown to clients as-is.
var (
	ErrInvalidUsername    = errors.New("Username must be 1-50 characters: letters, digits, '.', '_' or '-'")
	ErrInvalidEmail       = errors.New("Invalid email address")
	ErrInvalidPassword    = errors.New("Password cannot be empty")
	ErrInvalidFullName    = errors.New("Full name must be at most 100 characters")
	ErrInvalidStatus      = errors.New("Invalid status")
	ErrInvalidMessageType = errors.New("Invalid message type")
	ErrInvalidCallType    = errors.New("Invalid call type")
	ErrEmptyContent       = errors.New("Message content cannot be empty")
	ErrContentTooLarge    = errors.New("Message content exceeds 64KB limit")
)
