package router

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"chatrelay/internal/protocol"
	"chatrelay/internal/session"
)

// Directory resolves an online user to its connection.
type Directory interface {
	Lookup(userID int64) (session.Handle, bool)
}

// Membership expands friend lists and groups into user ids.
type Membership interface {
	ListFriendIDs(ctx context.Context, userID int64) ([]int64, error)
	ListGroupMemberIDs(ctx context.Context, groupID int64) ([]int64, error)
}

// Router pushes fire-and-forget notifications to online users.
// ARCHITECTURAL DISCOVERY: Delivery is at most once. Offline targets are
// skipped without queuing, and a user who connects later sees nothing
// retroactively.
type Router struct {
	sessions Directory
	members  Membership
	logger   *zap.Logger
}

// NewRouter creates a router over the given presence directory.
func NewRouter(sessions Directory, members Membership, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		sessions: sessions,
		members:  members,
		logger:   logger.Named("router"),
	}
}

// NotifyUser pushes a notification to userID if online. It reports whether
// the push was handed to the connection.
func (r *Router) NotifyUser(userID int64, action protocol.Action, payload interface{}) bool {
	env, err := protocol.NewNotification(action, payload)
	if err != nil {
		r.logger.Error("notification payload not encodable", zap.String("action", action.String()), zap.Error(err))
		return false
	}
	return r.deliver(userID, env)
}

// NotifyMany pushes the same notification to every id except exclude and
// returns how many online recipients accepted it. Duplicate ids are sent once.
func (r *Router) NotifyMany(userIDs []int64, action protocol.Action, payload interface{}, exclude int64) int {
	if len(userIDs) == 0 {
		return 0
	}
	env, err := protocol.NewNotification(action, payload)
	if err != nil {
		r.logger.Error("notification payload not encodable", zap.String("action", action.String()), zap.Error(err))
		return 0
	}

	seen := make(map[int64]struct{}, len(userIDs))
	delivered := 0
	for _, id := range userIDs {
		if id == exclude {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if r.deliver(id, env) {
			delivered++
		}
	}
	return delivered
}

// NotifyFriends pushes to every online friend of userID.
func (r *Router) NotifyFriends(ctx context.Context, userID int64, action protocol.Action, payload interface{}) (int, error) {
	ids, err := r.members.ListFriendIDs(ctx, userID)
	if err != nil {
		return 0, errors.Wrapf(err, "resolve friends of %d", userID)
	}
	return r.NotifyMany(ids, action, payload, userID), nil
}

// NotifyGroup pushes to every online member of groupID except senderID.
func (r *Router) NotifyGroup(ctx context.Context, groupID, senderID int64, action protocol.Action, payload interface{}) (int, error) {
	ids, err := r.members.ListGroupMemberIDs(ctx, groupID)
	if err != nil {
		return 0, errors.Wrapf(err, "resolve members of group %d", groupID)
	}
	return r.NotifyMany(ids, action, payload, senderID), nil
}

type signalHeader struct {
	ReceiverID int64  `json:"receiverId"`
	Type       string `json:"type"`
}

// RelayCallSignal forwards a raw CALL_SIGNAL payload to its receiverId. The
// push action is the payload's type (CALL_SIGNAL when absent) and the
// original payload is nested under "data". An offline receiver is not an
// error.
// TECHNICAL DISCOVERY: Frames are pushed on the sender's goroutine with no
// throttling, so a stalled receiver backs up the sender's read loop until
// its send timeout fires.
func (r *Router) RelayCallSignal(senderID int64, raw json.RawMessage) (bool, error) {
	var hdr signalHeader
	if err := json.Unmarshal(raw, &hdr); err != nil {
		return false, ErrInvalidSignal
	}
	if hdr.ReceiverID <= 0 {
		return false, ErrMissingReceiver
	}

	action := protocol.ActionCallSignal
	if hdr.Type != "" {
		action = protocol.Action(hdr.Type)
	}

	env, err := protocol.NewNotification(action, raw)
	if err != nil {
		return false, errors.Wrap(err, "wrap call signal")
	}

	if action.IsMediaSignal() {
		r.logger.Debug("relaying media signal",
			zap.String("action", action.String()), zap.Int64("user_id", senderID), zap.Int64("receiver_id", hdr.ReceiverID))
	} else {
		r.logger.Info("relaying call signal",
			zap.String("action", action.String()), zap.Int64("user_id", senderID), zap.Int64("receiver_id", hdr.ReceiverID))
	}

	return r.deliver(hdr.ReceiverID, env), nil
}

func (r *Router) deliver(userID int64, env *protocol.Envelope) bool {
	h, ok := r.sessions.Lookup(userID)
	if !ok {
		return false
	}
	if err := h.Send(env); err != nil {
		// FUNCTIONAL DISCOVERY: One failed recipient never stops the fan-out.
		r.logger.Debug("notification not delivered",
			zap.Int64("user_id", userID), zap.String("action", env.Action.String()), zap.Error(err))
		return false
	}
	return true
}
