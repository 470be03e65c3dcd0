package types

import (
	"time"
)

// UserStatus is the presence status a user advertises to friends.
// ONLINE/OFFLINE are also written by the server on login and disconnect.
type UserStatus string

const (
	StatusOnline  UserStatus = "ONLINE"
	StatusOffline UserStatus = "OFFLINE"
	StatusAway    UserStatus = "AWAY"
	StatusBusy    UserStatus = "BUSY"
)

// MessageType classifies message content. File-bearing types map to an
// upload directory (see FileCategory).
type MessageType string

const (
	MessageText  MessageType = "TEXT"
	MessageImage MessageType = "IMAGE"
	MessageFile  MessageType = "FILE"
	MessageVideo MessageType = "VIDEO"
	MessageAudio MessageType = "AUDIO"
	MessageEmoji MessageType = "EMOJI"
)

// RequestStatus tracks a friend request.
type RequestStatus string

const (
	RequestPending  RequestStatus = "PENDING"
	RequestAccepted RequestStatus = "ACCEPTED"
	RequestRejected RequestStatus = "REJECTED"
)

// CallType is AUDIO or VIDEO.
type CallType string

const (
	CallAudio CallType = "AUDIO"
	CallVideo CallType = "VIDEO"
)

// CallStatus follows RINGING -> ACCEPTED -> ENDED, or RINGING -> REJECTED/MISSED.
type CallStatus string

const (
	CallRinging  CallStatus = "RINGING"
	CallAccepted CallStatus = "ACCEPTED"
	CallRejected CallStatus = "REJECTED"
	CallEnded    CallStatus = "ENDED"
	CallMissed   CallStatus = "MISSED"
)

// MemberRole is a group member's role.
type MemberRole string

const (
	RoleAdmin  MemberRole = "ADMIN"
	RoleMember MemberRole = "MEMBER"
)

// User is the public user record. The password hash never leaves the
// persistence layer.
type User struct {
	UserID        int64      `json:"userId"`
	Username      string     `json:"username"`
	Email         string     `json:"email"`
	FullName      string     `json:"fullName"`
	StatusMessage string     `json:"statusMessage,omitempty"`
	UserStatus    UserStatus `json:"userStatus"`
	AvatarURL     string     `json:"avatarUrl,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	LastLogin     *time.Time `json:"lastLogin,omitempty"`
}

// Message is a private or group chat message. Exactly one of ReceiverID
// and GroupID is set.
type Message struct {
	MessageID      int64       `json:"messageId"`
	SenderID       int64       `json:"senderId"`
	ReceiverID     *int64      `json:"receiverId,omitempty"`
	GroupID        *int64      `json:"groupId,omitempty"`
	MessageType    MessageType `json:"messageType"`
	MessageContent string      `json:"messageContent"`
	FileURL        string      `json:"fileUrl,omitempty"`
	FileName       string      `json:"fileName,omitempty"`
	FileSize       int64       `json:"fileSize,omitempty"`
	IsRead         bool        `json:"isRead"`
	SentAt         time.Time   `json:"sentAt"`
	SenderName     string      `json:"senderName,omitempty"`
	ReceiverName   string      `json:"receiverName,omitempty"`
}

// Group is a chat group with its member ids.
type Group struct {
	GroupID          int64     `json:"groupId"`
	GroupName        string    `json:"groupName"`
	GroupDescription string    `json:"groupDescription"`
	CreatorID        int64     `json:"creatorId"`
	GroupAvatarURL   string    `json:"groupAvatarUrl,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
	MemberIDs        []int64   `json:"memberIds"`
}

// FriendRequest carries denormalized names of both parties for display.
type FriendRequest struct {
	RequestID        int64         `json:"requestId"`
	SenderID         int64         `json:"senderId"`
	ReceiverID       int64         `json:"receiverId"`
	RequestStatus    RequestStatus `json:"requestStatus"`
	CreatedAt        time.Time     `json:"createdAt"`
	UpdatedAt        time.Time     `json:"updatedAt"`
	SenderUsername   string        `json:"senderUsername,omitempty"`
	SenderFullName   string        `json:"senderFullName,omitempty"`
	ReceiverUsername string        `json:"receiverUsername,omitempty"`
	ReceiverFullName string        `json:"receiverFullName,omitempty"`
}

// CallInfo is one voice or video call. Duration is in seconds and only
// set once the call has ended.
type CallInfo struct {
	CallID       int64      `json:"callId"`
	CallerID     int64      `json:"callerId"`
	ReceiverID   int64      `json:"receiverId"`
	CallType     CallType   `json:"callType"`
	CallStatus   CallStatus `json:"callStatus"`
	StartedAt    time.Time  `json:"startedAt"`
	EndedAt      *time.Time `json:"endedAt,omitempty"`
	Duration     int64      `json:"duration"`
	CallerName   string     `json:"callerName,omitempty"`
	ReceiverName string     `json:"receiverName,omitempty"`
}

// OtherParty returns the participant that is not userID.
func (c *CallInfo) OtherParty(userID int64) int64 {
	if c.CallerID == userID {
		return c.ReceiverID
	}
	return c.CallerID
}

// IsParticipant reports whether userID is the caller or the receiver.
func (c *CallInfo) IsParticipant(userID int64) bool {
	return c.CallerID == userID || c.ReceiverID == userID
}
