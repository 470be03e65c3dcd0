package interfaces

import "errors"

// Errors returned by every Store implementation. Callers match them with
// errors.Is; implementations may wrap.
var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("record already exists")
	ErrClosed   = errors.New("store is closed")
)
