package interfaces

import (
	"context"

	"chatrelay/pkg/types"
)

// UserStore persists accounts, profiles and advertised status.
type UserStore interface {
	CreateUser(ctx context.Context, reg *types.Registration, passwordHash string) (*types.User, error)
	GetUserByID(ctx context.Context, userID int64) (*types.User, error)
	// GetCredentials returns the user and stored password hash for a username.
	GetCredentials(ctx context.Context, username string) (*types.User, string, error)
	UsernameExists(ctx context.Context, username string) (bool, error)
	EmailExists(ctx context.Context, email string) (bool, error)
	SearchUsers(ctx context.Context, keyword string, limit int) ([]*types.User, error)
	UpdateProfile(ctx context.Context, userID int64, fullName, statusMessage string) error
	UpdateStatus(ctx context.Context, userID int64, status types.UserStatus) error
	TouchLastLogin(ctx context.Context, userID int64) error
}

// FriendStore persists friend requests and the symmetric friendship relation.
type FriendStore interface {
	AreFriends(ctx context.Context, a, b int64) (bool, error)
	// HasPendingRequest checks both directions.
	HasPendingRequest(ctx context.Context, a, b int64) (bool, error)
	CreateFriendRequest(ctx context.Context, senderID, receiverID int64) (*types.FriendRequest, error)
	GetFriendRequest(ctx context.Context, requestID int64) (*types.FriendRequest, error)
	// AcceptFriendRequest marks the request accepted and inserts both
	// friendship rows atomically.
	AcceptFriendRequest(ctx context.Context, requestID int64) error
	RejectFriendRequest(ctx context.Context, requestID int64) error
	ListPendingRequests(ctx context.Context, receiverID int64) ([]*types.FriendRequest, error)
	ListFriends(ctx context.Context, userID int64) ([]*types.User, error)
	ListFriendIDs(ctx context.Context, userID int64) ([]int64, error)
}

// GroupStore persists groups and their membership.
type GroupStore interface {
	// CreateGroup inserts the group and its creator as ADMIN atomically.
	CreateGroup(ctx context.Context, name, description string, creatorID int64) (*types.Group, error)
	GetGroup(ctx context.Context, groupID int64) (*types.Group, error)
	AddGroupMember(ctx context.Context, groupID, userID int64) error
	IsGroupMember(ctx context.Context, groupID, userID int64) (bool, error)
	ListUserGroups(ctx context.Context, userID int64) ([]*types.Group, error)
	ListGroupMembers(ctx context.Context, groupID int64) ([]*types.User, error)
	ListGroupMemberIDs(ctx context.Context, groupID int64) ([]int64, error)
}

// MessageStore persists private and group messages.
type MessageStore interface {
	// CreateMessage stores msg and returns it with id, timestamp and
	// display names filled in.
	CreateMessage(ctx context.Context, msg *types.Message) (*types.Message, error)
	// ListPrivateMessages returns the conversation between a and b, newest first.
	ListPrivateMessages(ctx context.Context, a, b int64, limit int) ([]*types.Message, error)
	// ListGroupMessages returns a group's messages, newest first.
	ListGroupMessages(ctx context.Context, groupID int64, limit int) ([]*types.Message, error)
}

// CallStore persists call records and their status transitions.
type CallStore interface {
	CreateCall(ctx context.Context, callerID, receiverID int64, callType types.CallType) (*types.CallInfo, error)
	GetCall(ctx context.Context, callID int64) (*types.CallInfo, error)
	// TransitionCall moves a call to status `to` only if its current status
	// is one of `from`. It returns ErrNotFound when no row matched.
	TransitionCall(ctx context.Context, callID int64, from []types.CallStatus, to types.CallStatus) (*types.CallInfo, error)
}

// Store is the persistence collaborator consumed by the services.
type Store interface {
	UserStore
	FriendStore
	GroupStore
	MessageStore
	CallStore

	HealthCheck(ctx context.Context) error
	Close() error
}

// CredentialService hashes and verifies passwords.
type CredentialService interface {
	Hash(password string) (string, error)
	Verify(password, hash string) bool
}
