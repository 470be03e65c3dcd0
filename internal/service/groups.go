package service

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"chatrelay/pkg/interfaces"
	"chatrelay/pkg/types"
)

// MaxGroupNameLength bounds CREATE_GROUP names.
const MaxGroupNameLength = 100

// GroupService manages groups and membership.
type GroupService struct {
	users  interfaces.UserStore
	groups interfaces.GroupStore
	logger *zap.Logger
}

func NewGroupService(users interfaces.UserStore, groups interfaces.GroupStore, logger *zap.Logger) *GroupService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GroupService{users: users, groups: groups, logger: logger.Named("groups")}
}

// Create makes a group with creatorID as its ADMIN member.
func (s *GroupService) Create(ctx context.Context, creatorID int64, name, description string) (*types.Group, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrEmptyGroupName
	}
	if len(name) > MaxGroupNameLength {
		return nil, ErrGroupNameLength
	}
	group, err := s.groups.CreateGroup(ctx, name, description, creatorID)
	if err != nil {
		return nil, errors.Wrap(err, "create group")
	}
	s.logger.Info("group created", zap.Int64("group_id", group.GroupID), zap.Int64("user_id", creatorID))
	return group, nil
}

// Join adds userID to groupID on behalf of actorID. Adding someone else
// requires the actor to be a member already.
func (s *GroupService) Join(ctx context.Context, actorID, groupID, userID int64) error {
	if _, err := s.group(ctx, groupID); err != nil {
		return err
	}
	if userID != actorID {
		if err := s.RequireMember(ctx, groupID, actorID); err != nil {
			return err
		}
		if _, err := s.users.GetUserByID(ctx, userID); err != nil {
			if errors.Is(err, interfaces.ErrNotFound) {
				return ErrUserNotFound
			}
			return errors.Wrap(err, "load user")
		}
	}

	err := s.groups.AddGroupMember(ctx, groupID, userID)
	if errors.Is(err, interfaces.ErrConflict) {
		return ErrAlreadyMember
	}
	return errors.Wrap(err, "add group member")
}

// RequireMember returns ErrNotGroupMember unless userID belongs to groupID.
func (s *GroupService) RequireMember(ctx context.Context, groupID, userID int64) error {
	ok, err := s.groups.IsGroupMember(ctx, groupID, userID)
	if err != nil {
		return errors.Wrap(err, "check membership")
	}
	if !ok {
		return ErrNotGroupMember
	}
	return nil
}

// Groups lists the groups userID belongs to.
func (s *GroupService) Groups(ctx context.Context, userID int64) ([]*types.Group, error) {
	groups, err := s.groups.ListUserGroups(ctx, userID)
	return groups, errors.Wrap(err, "list groups")
}

// Members lists a group's members.
func (s *GroupService) Members(ctx context.Context, groupID int64) ([]*types.User, error) {
	if _, err := s.group(ctx, groupID); err != nil {
		return nil, err
	}
	members, err := s.groups.ListGroupMembers(ctx, groupID)
	return members, errors.Wrap(err, "list group members")
}

func (s *GroupService) group(ctx context.Context, groupID int64) (*types.Group, error) {
	g, err := s.groups.GetGroup(ctx, groupID)
	if errors.Is(err, interfaces.ErrNotFound) {
		return nil, ErrGroupNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "load group")
	}
	return g, nil
}
