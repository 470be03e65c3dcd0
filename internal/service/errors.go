package service

import (
	"github.com/pkg/errors"
)

// BusinessError is a rule violation whose text is shown to the client
// verbatim.
type BusinessError struct {
	msg   string
	cause error
}

func (e *BusinessError) Error() string { return e.msg }

func (e *BusinessError) Unwrap() error { return e.cause }

func business(msg string) *BusinessError { return &BusinessError{msg: msg} }

// invalid marks a validation error from pkg/types as client-facing.
func invalid(err error) error {
	return &BusinessError{msg: err.Error(), cause: err}
}

// AsBusiness extracts the client-facing error from err's chain.
func AsBusiness(err error) (*BusinessError, bool) {
	var be *BusinessError
	if errors.As(err, &be) {
		return be, true
	}
	return nil, false
}

var (
	ErrUsernameExists     = business("Username already exists")
	ErrEmailExists        = business("Email already exists")
	ErrInvalidCredentials = business("Invalid credentials")
	ErrTooManyAttempts    = business("Too many login attempts")
	ErrUserNotFound       = business("User not found")

	ErrCannotFriendSelf  = business("Cannot send a friend request to yourself")
	ErrFriendRequestDup  = business("Failed to send request. User may already be a friend or have a pending request.")
	ErrRequestNotFound   = business("Friend request not found")
	ErrNotRequestTarget  = business("Not authorized to answer this request")
	ErrRequestNotPending = business("Friend request already answered")

	ErrMissingTarget   = business("Missing receiverId or groupId")
	ErrGroupNotFound   = business("Group not found")
	ErrNotGroupMember  = business("Not a member of this group")
	ErrAlreadyMember   = business("Already a member of this group")
	ErrEmptyGroupName  = business("Group name cannot be empty")
	ErrGroupNameLength = business("Group name must be at most 100 characters")

	ErrCannotCallSelf     = business("Cannot call yourself")
	ErrCallNotFound       = business("Call not found")
	ErrNotCallParticipant = business("Not a participant in this call")
	ErrCallNotRinging     = business("Call is no longer ringing")
	ErrCallFinished       = business("Call already finished")

	ErrInvalidFileData = business("Invalid file data")
	ErrInvalidFilePath = business("Invalid file path")
	ErrFileNotFound    = business("File not found")
	ErrMissingFileName = business("File name cannot be empty")
)
