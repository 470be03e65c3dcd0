package dispatcher

import "errors"

// Stable failure messages.
const (
	MsgUnknownAction = "Unknown action"
	MsgNotLoggedIn   = "Not logged in"
	MsgInvalidData   = "Invalid request data"
)

var ErrMissingRoute = errors.New("action has no route")

// badRequest reports request data the executor cannot act on. Its text is
// sent to the client.
type badRequest string

func (e badRequest) Error() string { return string(e) }
