package connection

import "errors"

var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrWriteTimeout     = errors.New("write timeout")
	ErrNilTransport     = errors.New("transport cannot be nil")
)

// Stable failure messages sent back on the wire.
const (
	MsgInvalidRequest = "Invalid request format"
	MsgInternalError  = "Internal server error"
)
