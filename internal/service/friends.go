package service

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"chatrelay/pkg/interfaces"
	"chatrelay/pkg/types"
)

// FriendService manages friend requests and the friendship relation.
type FriendService struct {
	users   interfaces.UserStore
	friends interfaces.FriendStore
	logger  *zap.Logger
}

func NewFriendService(users interfaces.UserStore, friends interfaces.FriendStore, logger *zap.Logger) *FriendService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FriendService{users: users, friends: friends, logger: logger.Named("friends")}
}

// SendRequest creates a pending request from senderID to receiverID.
func (s *FriendService) SendRequest(ctx context.Context, senderID, receiverID int64) (*types.FriendRequest, error) {
	if senderID == receiverID {
		return nil, ErrCannotFriendSelf
	}
	if _, err := s.users.GetUserByID(ctx, receiverID); err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, errors.Wrap(err, "load receiver")
	}

	already, err := s.friends.AreFriends(ctx, senderID, receiverID)
	if err != nil {
		return nil, errors.Wrap(err, "check friendship")
	}
	pending, err := s.friends.HasPendingRequest(ctx, senderID, receiverID)
	if err != nil {
		return nil, errors.Wrap(err, "check pending request")
	}
	if already || pending {
		return nil, ErrFriendRequestDup
	}

	req, err := s.friends.CreateFriendRequest(ctx, senderID, receiverID)
	if errors.Is(err, interfaces.ErrConflict) {
		return nil, ErrFriendRequestDup
	}
	if err != nil {
		return nil, errors.Wrap(err, "create friend request")
	}
	s.logger.Info("friend request sent",
		zap.Int64("request_id", req.RequestID), zap.Int64("user_id", senderID), zap.Int64("receiver_id", receiverID))
	return req, nil
}

// Accept answers a pending request addressed to userID and makes both
// users friends. It returns the request so the sender can be notified.
func (s *FriendService) Accept(ctx context.Context, userID, requestID int64) (*types.FriendRequest, error) {
	req, err := s.pendingFor(ctx, userID, requestID)
	if err != nil {
		return nil, err
	}
	if err := s.friends.AcceptFriendRequest(ctx, requestID); err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return nil, ErrRequestNotPending
		}
		return nil, errors.Wrap(err, "accept friend request")
	}
	req.RequestStatus = types.RequestAccepted
	s.logger.Info("friend request accepted", zap.Int64("request_id", requestID), zap.Int64("user_id", userID))
	return req, nil
}

// Reject answers a pending request addressed to userID.
func (s *FriendService) Reject(ctx context.Context, userID, requestID int64) (*types.FriendRequest, error) {
	req, err := s.pendingFor(ctx, userID, requestID)
	if err != nil {
		return nil, err
	}
	if err := s.friends.RejectFriendRequest(ctx, requestID); err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return nil, ErrRequestNotPending
		}
		return nil, errors.Wrap(err, "reject friend request")
	}
	req.RequestStatus = types.RequestRejected
	return req, nil
}

func (s *FriendService) pendingFor(ctx context.Context, userID, requestID int64) (*types.FriendRequest, error) {
	req, err := s.friends.GetFriendRequest(ctx, requestID)
	if errors.Is(err, interfaces.ErrNotFound) {
		return nil, ErrRequestNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "load friend request")
	}
	if req.ReceiverID != userID {
		return nil, ErrNotRequestTarget
	}
	if req.RequestStatus != types.RequestPending {
		return nil, ErrRequestNotPending
	}
	return req, nil
}

// Friends lists userID's friends.
func (s *FriendService) Friends(ctx context.Context, userID int64) ([]*types.User, error) {
	friends, err := s.friends.ListFriends(ctx, userID)
	return friends, errors.Wrap(err, "list friends")
}

// PendingRequests lists requests waiting for userID's answer.
func (s *FriendService) PendingRequests(ctx context.Context, userID int64) ([]*types.FriendRequest, error) {
	reqs, err := s.friends.ListPendingRequests(ctx, userID)
	return reqs, errors.Wrap(err, "list friend requests")
}
