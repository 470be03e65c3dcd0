package dispatcher

import (
	"context"

	"chatrelay/internal/protocol"
)

type friendRequestTarget struct {
	ReceiverID int64 `json:"receiverId"`
}

type friendRequestAnswer struct {
	RequestID int64 `json:"requestId"`
}

func (d *Dispatcher) sendFriendRequest(ctx context.Context, c *call) (*reply, error) {
	var in friendRequestTarget
	if err := c.bind(&in); err != nil {
		return nil, err
	}
	if err := requireID("receiverId", in.ReceiverID); err != nil {
		return nil, err
	}
	req, err := d.services.Friends.SendRequest(ctx, c.userID, in.ReceiverID)
	if err != nil {
		return nil, err
	}
	d.notifier.NotifyUser(in.ReceiverID, protocol.NotifyFriendRequest, req)
	return &reply{message: "Friend request sent", data: map[string]interface{}{"request": req}}, nil
}

func (d *Dispatcher) acceptFriendRequest(ctx context.Context, c *call) (*reply, error) {
	var in friendRequestAnswer
	if err := c.bind(&in); err != nil {
		return nil, err
	}
	if err := requireID("requestId", in.RequestID); err != nil {
		return nil, err
	}
	req, err := d.services.Friends.Accept(ctx, c.userID, in.RequestID)
	if err != nil {
		return nil, err
	}
	d.notifier.NotifyUser(req.SenderID, protocol.NotifyFriendAccepted, req)
	return &reply{message: "Friend request accepted"}, nil
}

func (d *Dispatcher) rejectFriendRequest(ctx context.Context, c *call) (*reply, error) {
	var in friendRequestAnswer
	if err := c.bind(&in); err != nil {
		return nil, err
	}
	if err := requireID("requestId", in.RequestID); err != nil {
		return nil, err
	}
	if _, err := d.services.Friends.Reject(ctx, c.userID, in.RequestID); err != nil {
		return nil, err
	}
	return &reply{message: "Friend request rejected"}, nil
}

func (d *Dispatcher) getFriends(ctx context.Context, c *call) (*reply, error) {
	friends, err := d.services.Friends.Friends(ctx, c.userID)
	if err != nil {
		return nil, err
	}
	return &reply{message: "Friends retrieved", data: map[string]interface{}{"friends": friends}}, nil
}

func (d *Dispatcher) getFriendRequests(ctx context.Context, c *call) (*reply, error) {
	reqs, err := d.services.Friends.PendingRequests(ctx, c.userID)
	if err != nil {
		return nil, err
	}
	return &reply{message: "Requests retrieved", data: map[string]interface{}{"requests": reqs}}, nil
}

type createGroupRequest struct {
	GroupName        string `json:"groupName"`
	GroupDescription string `json:"groupDescription"`
}

func (d *Dispatcher) createGroup(ctx context.Context, c *call) (*reply, error) {
	var in createGroupRequest
	if err := c.bind(&in); err != nil {
		return nil, err
	}
	group, err := d.services.Groups.Create(ctx, c.userID, in.GroupName, in.GroupDescription)
	if err != nil {
		return nil, err
	}
	return &reply{message: "Group created", data: map[string]interface{}{"group": group}}, nil
}

type groupRequest struct {
	GroupID int64 `json:"groupId"`
	UserID  int64 `json:"userId"`
}

func (d *Dispatcher) joinGroup(ctx context.Context, c *call) (*reply, error) {
	var in groupRequest
	if err := c.bind(&in); err != nil {
		return nil, err
	}
	if err := requireID("groupId", in.GroupID); err != nil {
		return nil, err
	}
	target := in.UserID
	if target <= 0 {
		target = c.userID
	}
	if err := d.services.Groups.Join(ctx, c.userID, in.GroupID, target); err != nil {
		return nil, err
	}
	return &reply{message: "Joined group"}, nil
}

func (d *Dispatcher) getGroups(ctx context.Context, c *call) (*reply, error) {
	groups, err := d.services.Groups.Groups(ctx, c.userID)
	if err != nil {
		return nil, err
	}
	return &reply{message: "Groups retrieved", data: map[string]interface{}{"groups": groups}}, nil
}

func (d *Dispatcher) getGroupMembers(ctx context.Context, c *call) (*reply, error) {
	var in groupRequest
	if err := c.bind(&in); err != nil {
		return nil, err
	}
	if err := requireID("groupId", in.GroupID); err != nil {
		return nil, err
	}
	members, err := d.services.Groups.Members(ctx, in.GroupID)
	if err != nil {
		return nil, err
	}
	return &reply{message: "Members retrieved", data: map[string]interface{}{"members": members}}, nil
}
