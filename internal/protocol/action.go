package protocol

import "strings"

// Action names a request, response or notification on the wire.
type Action string

// Request actions. Responses reuse the request's action.
const (
	ActionRegister            Action = "REGISTER"
	ActionLogin               Action = "LOGIN"
	ActionLogout              Action = "LOGOUT"
	ActionUpdateProfile       Action = "UPDATE_PROFILE"
	ActionUpdateStatus        Action = "UPDATE_STATUS"
	ActionSearchUsers         Action = "SEARCH_USERS"
	ActionSendFriendRequest   Action = "SEND_FRIEND_REQUEST"
	ActionAcceptFriendRequest Action = "ACCEPT_FRIEND_REQUEST"
	ActionRejectFriendRequest Action = "REJECT_FRIEND_REQUEST"
	ActionGetFriends          Action = "GET_FRIENDS"
	ActionGetFriendRequests   Action = "GET_FRIEND_REQUESTS"
	ActionGetUserProfile      Action = "GET_USER_PROFILE"
	ActionSendMessage         Action = "SEND_MESSAGE"
	ActionGetMessages         Action = "GET_MESSAGES"
	ActionSendFile            Action = "SEND_FILE"
	ActionReceiveFile         Action = "RECEIVE_FILE"
	ActionCreateGroup         Action = "CREATE_GROUP"
	ActionJoinGroup           Action = "JOIN_GROUP"
	ActionGetGroups           Action = "GET_GROUPS"
	ActionGetGroupMembers     Action = "GET_GROUP_MEMBERS"
	ActionSendGroupMessage    Action = "SEND_GROUP_MESSAGE"
	ActionInitiateCall        Action = "INITIATE_CALL"
	ActionAcceptCall          Action = "ACCEPT_CALL"
	ActionRejectCall          Action = "REJECT_CALL"
	ActionEndCall             Action = "END_CALL"
	ActionCallSignal          Action = "CALL_SIGNAL"
)

// NotifyPrefix marks server-initiated pushes that expect no reply.
const NotifyPrefix = "NOTIFY_"

// Server pushes.
const (
	NotifyUserOnline     Action = "NOTIFY_USER_ONLINE"
	NotifyUserOffline    Action = "NOTIFY_USER_OFFLINE"
	NotifyNewMessage     Action = "NOTIFY_NEW_MESSAGE"
	NotifyFriendRequest  Action = "NOTIFY_FRIEND_REQUEST"
	NotifyFriendAccepted Action = "NOTIFY_FRIEND_ACCEPTED"
	NotifyIncomingCall   Action = "NOTIFY_INCOMING_CALL"
	NotifyCallAccepted   Action = "NOTIFY_CALL_ACCEPTED"
	NotifyCallRejected   Action = "NOTIFY_CALL_REJECTED"
	NotifyCallEnded      Action = "NOTIFY_CALL_ENDED"

	// StatusChange predates the prefix convention and is kept for
	// compatibility with existing clients.
	StatusChange Action = "STATUS_CHANGE"

	// ActionError answers a line that could not be handled at all.
	ActionError Action = "ERROR"
)

// Call-signal types relayed as the push action.
const (
	SignalVideoFrame Action = "VIDEO_FRAME"
	SignalAudioChunk Action = "AUDIO_CHUNK"
)

var requestActions = map[Action]struct{}{
	ActionRegister: {}, ActionLogin: {}, ActionLogout: {},
	ActionUpdateProfile: {}, ActionUpdateStatus: {}, ActionSearchUsers: {},
	ActionSendFriendRequest: {}, ActionAcceptFriendRequest: {}, ActionRejectFriendRequest: {},
	ActionGetFriends: {}, ActionGetFriendRequests: {}, ActionGetUserProfile: {},
	ActionSendMessage: {}, ActionGetMessages: {}, ActionSendFile: {}, ActionReceiveFile: {},
	ActionCreateGroup: {}, ActionJoinGroup: {}, ActionGetGroups: {}, ActionGetGroupMembers: {},
	ActionSendGroupMessage: {}, ActionInitiateCall: {}, ActionAcceptCall: {},
	ActionRejectCall: {}, ActionEndCall: {}, ActionCallSignal: {},
}

// ParseAction translates a wire action name into the closed request set.
// ok is false for names that are not requests.
func ParseAction(name string) (Action, bool) {
	a := Action(name)
	_, ok := requestActions[a]
	return a, ok
}

// RequestActions returns every request action.
func RequestActions() []Action {
	actions := make([]Action, 0, len(requestActions))
	for a := range requestActions {
		actions = append(actions, a)
	}
	return actions
}

// IsNotification reports whether the action carries the reserved prefix.
func (a Action) IsNotification() bool {
	return strings.HasPrefix(string(a), NotifyPrefix)
}

// IsMediaSignal reports whether a relayed signal is a high-frequency media chunk.
func (a Action) IsMediaSignal() bool {
	return a == SignalVideoFrame || a == SignalAudioChunk
}

func (a Action) String() string {
	return string(a)
}
