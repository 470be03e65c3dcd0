package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"chatrelay/internal/connection"
	"chatrelay/internal/protocol"
	"chatrelay/internal/service"
	"chatrelay/internal/session"
	"chatrelay/pkg/types"
)

// cleanupTimeout bounds the status update made when a connection drops.
const cleanupTimeout = 5 * time.Second

// Sessions is the registry surface the dispatcher mutates.
type Sessions interface {
	Register(userID int64, h session.Handle) (*session.Session, error)
	UnregisterHandle(userID int64, h session.Handle) bool
}

// Notifier pushes server-initiated envelopes to online users.
type Notifier interface {
	NotifyUser(userID int64, action protocol.Action, payload interface{}) bool
	NotifyFriends(ctx context.Context, userID int64, action protocol.Action, payload interface{}) (int, error)
	NotifyGroup(ctx context.Context, groupID, senderID int64, action protocol.Action, payload interface{}) (int, error)
	RelayCallSignal(senderID int64, raw json.RawMessage) (bool, error)
}

// call is one request in flight on one connection.
type call struct {
	conn   *connection.Connection
	req    *protocol.Envelope
	userID int64
}

// bind decodes the request data into v.
func (c *call) bind(v interface{}) error {
	if err := c.req.Bind(v); err != nil {
		return badRequest(MsgInvalidData)
	}
	return nil
}

// reply is an executor's successful outcome.
type reply struct {
	message string
	data    interface{}
}

type executor func(ctx context.Context, c *call) (*reply, error)

type route struct {
	requiresAuth bool
	// failure is sent when the executor fails with an unexpected error.
	failure string
	// silent routes never answer, not even on failure.
	silent bool
	exec   executor
}

// Dispatcher maps each request action to its executor and enforces the
// login gate.
// ARCHITECTURAL DISCOVERY: Executors run synchronously on the calling
// connection's goroutine. A slow store call delays only that connection.
type Dispatcher struct {
	routes   map[protocol.Action]route
	services *service.Services
	sessions Sessions
	notifier Notifier
	presence *userLocks
	logger   *zap.Logger
}

var _ connection.Handler = (*Dispatcher)(nil)

// New builds the dispatcher. Every request action must have a route.
func New(services *service.Services, sessions Sessions, notifier Notifier, logger *zap.Logger) (*Dispatcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{
		services: services,
		sessions: sessions,
		notifier: notifier,
		presence: newUserLocks(),
		logger:   logger.Named("dispatcher"),
	}
	d.routes = d.buildRoutes()

	for _, action := range protocol.RequestActions() {
		if _, ok := d.routes[action]; !ok {
			return nil, errors.Wrap(ErrMissingRoute, action.String())
		}
	}
	return d, nil
}

// Dispatch runs one request and returns its response, or nil when the
// action never answers.
func (d *Dispatcher) Dispatch(ctx context.Context, conn *connection.Connection, req *protocol.Envelope) (resp *protocol.Envelope) {
	action, ok := protocol.ParseAction(req.Action.String())
	if !ok {
		d.logger.Info("unknown action", zap.String("action", req.Action.String()), zap.String("conn_id", conn.ID()))
		return withID(protocol.Failure(req.Action, MsgUnknownAction), req.ID)
	}
	rt := d.routes[action]

	userID, authed := conn.UserID()
	if rt.requiresAuth && !authed {
		return withID(protocol.Failure(action, MsgNotLoggedIn), req.ID)
	}

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("executor panic",
				zap.String("action", action.String()),
				zap.String("conn_id", conn.ID()),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			resp = withID(protocol.Failure(protocol.ActionError, connection.MsgInternalError), req.ID)
		}
	}()

	rep, err := rt.exec(ctx, &call{conn: conn, req: req, userID: userID})
	if rt.silent {
		if err != nil {
			d.logger.Warn("request dropped", zap.String("action", action.String()), zap.Int64("user_id", userID), zap.Error(err))
		}
		return nil
	}
	if err != nil {
		return withID(protocol.Failure(action, d.failureMessage(action, rt, userID, err)), req.ID)
	}

	resp, err = protocol.NewResponse(action, true, rep.message, rep.data)
	if err != nil {
		d.logger.Error("response not encodable", zap.String("action", action.String()), zap.Error(err))
		return withID(protocol.Failure(action, rt.failure), req.ID)
	}
	return withID(resp, req.ID)
}

func (d *Dispatcher) failureMessage(action protocol.Action, rt route, userID int64, err error) string {
	if be, ok := service.AsBusiness(err); ok {
		return be.Error()
	}
	var bad badRequest
	if errors.As(err, &bad) {
		return bad.Error()
	}
	d.logger.Error("request failed",
		zap.String("action", action.String()), zap.Int64("user_id", userID), zap.Error(err))
	return rt.failure
}

// Disconnected releases the connection's session. A connection orphaned
// by a newer login leaves that login untouched.
func (d *Dispatcher) Disconnected(ctx context.Context, conn *connection.Connection) {
	userID, ok := conn.UserID()
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	if !d.release(ctx, conn, userID) {
		conn.Logger().Info("orphaned connection closed", zap.Int64("user_id", userID))
	}
}

// release unbinds userID from conn and, if conn still owned the session,
// marks the user offline and tells their friends. It holds userID's
// presence lock so a concurrent login cannot be overwritten by OFFLINE.
func (d *Dispatcher) release(ctx context.Context, conn *connection.Connection, userID int64) bool {
	unlock := d.presence.lock(userID)
	defer unlock()

	if !d.sessions.UnregisterHandle(userID, conn) {
		return false
	}
	if err := d.services.Users.Logout(ctx, userID); err != nil {
		d.logger.Warn("mark offline failed", zap.Int64("user_id", userID), zap.Error(err))
	}

	user, err := d.services.Users.Profile(ctx, userID)
	if err != nil {
		user = &types.User{UserID: userID, UserStatus: types.StatusOffline}
	}
	d.notifyFriends(ctx, userID, protocol.NotifyUserOffline, user)
	conn.Logger().Info("user offline", zap.Int64("user_id", userID))
	return true
}

func (d *Dispatcher) notifyFriends(ctx context.Context, userID int64, action protocol.Action, payload interface{}) {
	if _, err := d.notifier.NotifyFriends(ctx, userID, action, payload); err != nil {
		d.logger.Warn("friend fan-out failed",
			zap.String("action", action.String()), zap.Int64("user_id", userID), zap.Error(err))
	}
}

func withID(env *protocol.Envelope, id uint64) *protocol.Envelope {
	env.ID = id
	return env
}

// requireID turns a missing or non-positive id field into a client error.
func requireID(name string, v int64) error {
	if v <= 0 {
		return badRequest(fmt.Sprintf("Missing %s", name))
	}
	return nil
}
