package dispatcher

import "chatrelay/internal/protocol"

// buildRoutes is the closed action table.
func (d *Dispatcher) buildRoutes() map[protocol.Action]route {
	return map[protocol.Action]route{
		protocol.ActionRegister:       {exec: d.register, failure: "Registration failed"},
		protocol.ActionLogin:          {exec: d.login, failure: "Login failed"},
		protocol.ActionLogout:         {requiresAuth: true, exec: d.logout, failure: "Logout failed"},
		protocol.ActionUpdateProfile:  {requiresAuth: true, exec: d.updateProfile, failure: "Update failed"},
		protocol.ActionUpdateStatus:   {requiresAuth: true, exec: d.updateStatus, failure: "Update failed"},
		protocol.ActionSearchUsers:    {exec: d.searchUsers, failure: "Search failed"},
		protocol.ActionGetUserProfile: {exec: d.getUserProfile, failure: "User not found"},

		protocol.ActionSendFriendRequest:   {requiresAuth: true, exec: d.sendFriendRequest, failure: "Failed to send request"},
		protocol.ActionAcceptFriendRequest: {requiresAuth: true, exec: d.acceptFriendRequest, failure: "Failed to accept request"},
		protocol.ActionRejectFriendRequest: {requiresAuth: true, exec: d.rejectFriendRequest, failure: "Failed to reject"},
		protocol.ActionGetFriends:          {requiresAuth: true, exec: d.getFriends, failure: "Failed to load friends"},
		protocol.ActionGetFriendRequests:   {requiresAuth: true, exec: d.getFriendRequests, failure: "Failed to load requests"},

		protocol.ActionSendMessage:      {requiresAuth: true, exec: d.sendMessage, failure: "Failed to send message"},
		protocol.ActionGetMessages:      {requiresAuth: true, exec: d.getMessages, failure: "Failed to load messages"},
		protocol.ActionSendFile:         {requiresAuth: true, exec: d.sendFile, failure: "Failed to send file"},
		protocol.ActionReceiveFile:      {requiresAuth: true, exec: d.receiveFile, failure: "Failed to read file"},
		protocol.ActionSendGroupMessage: {requiresAuth: true, exec: d.sendGroupMessage, failure: "Failed to send message"},

		protocol.ActionCreateGroup:     {requiresAuth: true, exec: d.createGroup, failure: "Failed to create group"},
		protocol.ActionJoinGroup:       {requiresAuth: true, exec: d.joinGroup, failure: "Failed to join"},
		protocol.ActionGetGroups:       {requiresAuth: true, exec: d.getGroups, failure: "Failed to load groups"},
		protocol.ActionGetGroupMembers: {exec: d.getGroupMembers, failure: "Failed to load members"},

		protocol.ActionInitiateCall: {requiresAuth: true, exec: d.initiateCall, failure: "Failed to initiate call"},
		protocol.ActionAcceptCall:   {requiresAuth: true, exec: d.acceptCall, failure: "Failed to accept"},
		protocol.ActionRejectCall:   {requiresAuth: true, exec: d.rejectCall, failure: "Failed to reject"},
		protocol.ActionEndCall:      {requiresAuth: true, exec: d.endCall, failure: "Failed to end"},
		protocol.ActionCallSignal:   {requiresAuth: true, silent: true, exec: d.callSignal},
	}
}
