package websocket

import "errors"

var (
	ErrNilConn      = errors.New("websocket connection cannot be nil")
	ErrShuttingDown = errors.New("websocket handler is shutting down")
)
