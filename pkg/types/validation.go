package types

import (
	"regexp"
	"strings"
)

// Compiled once; validation runs on every REGISTER and status change.
var (
	usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)
	emailRegex    = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
)

const (
	MaxUsernameLength = 50
	MaxFullNameLength = 100
	MaxContentLength  = 65536
	MinPasswordLength = 1
)

// Validate checks the fields accepted by REGISTER.
func (r *Registration) Validate() error {
	if !IsValidUsername(r.Username) {
		return ErrInvalidUsername
	}
	if !emailRegex.MatchString(r.Email) {
		return ErrInvalidEmail
	}
	if len(r.Password) < MinPasswordLength {
		return ErrInvalidPassword
	}
	if len(r.FullName) > MaxFullNameLength {
		return ErrInvalidFullName
	}
	return nil
}

// Registration is the REGISTER request payload.
type Registration struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"fullName"`
}

// IsValidUsername checks length and allowed characters.
func IsValidUsername(username string) bool {
	if len(username) < 1 || len(username) > MaxUsernameLength {
		return false
	}
	return usernameRegex.MatchString(username)
}

// ParseUserStatus accepts any case and rejects unknown values.
func ParseUserStatus(s string) (UserStatus, error) {
	switch st := UserStatus(strings.ToUpper(s)); st {
	case StatusOnline, StatusOffline, StatusAway, StatusBusy:
		return st, nil
	}
	return "", ErrInvalidStatus
}

// ParseMessageType accepts any case; an empty value means TEXT.
func ParseMessageType(s string) (MessageType, error) {
	if s == "" {
		return MessageText, nil
	}
	switch mt := MessageType(strings.ToUpper(s)); mt {
	case MessageText, MessageImage, MessageFile, MessageVideo, MessageAudio, MessageEmoji:
		return mt, nil
	}
	return "", ErrInvalidMessageType
}

// ParseCallType accepts any case and rejects unknown values.
func ParseCallType(s string) (CallType, error) {
	switch ct := CallType(strings.ToUpper(s)); ct {
	case CallAudio, CallVideo:
		return ct, nil
	}
	return "", ErrInvalidCallType
}

// ValidateContent rejects empty and oversized message bodies.
func ValidateContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return ErrEmptyContent
	}
	if len(content) > MaxContentLength {
		return ErrContentTooLarge
	}
	return nil
}

// FileCategory returns the upload subdirectory for a message type.
func FileCategory(t MessageType) string {
	switch t {
	case MessageImage:
		return "images"
	case MessageVideo:
		return "videos"
	case MessageAudio:
		return "audio"
	default:
		return "files"
	}
}
