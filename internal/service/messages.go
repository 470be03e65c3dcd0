package service

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"chatrelay/pkg/interfaces"
	"chatrelay/pkg/types"
)

// History limits for GET_MESSAGES.
const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 500
)

// Draft is an outgoing message before it is stored. Exactly one of
// ReceiverID and GroupID must be set.
type Draft struct {
	SenderID   int64
	ReceiverID int64
	GroupID    int64
	Type       string
	Content    string
	FileURL    string
	FileName   string
	FileSize   int64
}

// MessageService stores private and group messages.
type MessageService struct {
	users    interfaces.UserStore
	groups   interfaces.GroupStore
	messages interfaces.MessageStore
	logger   *zap.Logger
}

func NewMessageService(users interfaces.UserStore, groups interfaces.GroupStore, messages interfaces.MessageStore, logger *zap.Logger) *MessageService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MessageService{users: users, groups: groups, messages: messages, logger: logger.Named("messages")}
}

// Send validates and stores d, returning the stored record.
func (s *MessageService) Send(ctx context.Context, d Draft) (*types.Message, error) {
	if (d.ReceiverID > 0) == (d.GroupID > 0) {
		return nil, ErrMissingTarget
	}
	msgType, err := types.ParseMessageType(d.Type)
	if err != nil {
		return nil, invalid(err)
	}
	if err := types.ValidateContent(d.Content); err != nil {
		return nil, invalid(err)
	}

	msg := &types.Message{
		SenderID:       d.SenderID,
		MessageType:    msgType,
		MessageContent: d.Content,
		FileURL:        d.FileURL,
		FileName:       d.FileName,
		FileSize:       d.FileSize,
	}

	if d.GroupID > 0 {
		if err := s.requireMember(ctx, d.GroupID, d.SenderID); err != nil {
			return nil, err
		}
		gid := d.GroupID
		msg.GroupID = &gid
	} else {
		if _, err := s.users.GetUserByID(ctx, d.ReceiverID); err != nil {
			if errors.Is(err, interfaces.ErrNotFound) {
				return nil, ErrUserNotFound
			}
			return nil, errors.Wrap(err, "load receiver")
		}
		rid := d.ReceiverID
		msg.ReceiverID = &rid
	}

	stored, err := s.messages.CreateMessage(ctx, msg)
	if err != nil {
		return nil, errors.Wrap(err, "store message")
	}
	return stored, nil
}

// PrivateHistory returns the conversation between userID and peerID,
// newest first.
func (s *MessageService) PrivateHistory(ctx context.Context, userID, peerID int64, limit int) ([]*types.Message, error) {
	msgs, err := s.messages.ListPrivateMessages(ctx, userID, peerID, clampLimit(limit))
	return msgs, errors.Wrap(err, "list private messages")
}

// GroupHistory returns a group's messages, newest first. Only members may
// read them.
func (s *MessageService) GroupHistory(ctx context.Context, userID, groupID int64, limit int) ([]*types.Message, error) {
	if err := s.requireMember(ctx, groupID, userID); err != nil {
		return nil, err
	}
	msgs, err := s.messages.ListGroupMessages(ctx, groupID, clampLimit(limit))
	return msgs, errors.Wrap(err, "list group messages")
}

func (s *MessageService) requireMember(ctx context.Context, groupID, userID int64) error {
	if _, err := s.groups.GetGroup(ctx, groupID); err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return ErrGroupNotFound
		}
		return errors.Wrap(err, "load group")
	}
	ok, err := s.groups.IsGroupMember(ctx, groupID, userID)
	if err != nil {
		return errors.Wrap(err, "check membership")
	}
	if !ok {
		return ErrNotGroupMember
	}
	return nil
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultHistoryLimit
	case limit > MaxHistoryLimit:
		return MaxHistoryLimit
	default:
		return limit
	}
}
