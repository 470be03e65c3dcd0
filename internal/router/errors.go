package router

import "errors"

var (
	ErrMissingReceiver = errors.New("call signal missing receiverId")
	ErrInvalidSignal   = errors.New("call signal is not a JSON object")
)
