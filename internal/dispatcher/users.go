package dispatcher

import (
	"context"

	"go.uber.org/zap"

	"chatrelay/internal/protocol"
	"chatrelay/pkg/types"
)

func (d *Dispatcher) register(ctx context.Context, c *call) (*reply, error) {
	var reg types.Registration
	if err := c.bind(&reg); err != nil {
		return nil, err
	}
	user, err := d.services.Users.Register(ctx, &reg)
	if err != nil {
		return nil, err
	}
	return &reply{message: "Registration successful", data: map[string]interface{}{"user": user}}, nil
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (d *Dispatcher) login(ctx context.Context, c *call) (*reply, error) {
	var in loginRequest
	if err := c.bind(&in); err != nil {
		return nil, err
	}
	account, err := d.services.Users.Authenticate(ctx, in.Username, in.Password)
	if err != nil {
		return nil, err
	}

	previous, err := c.conn.Authenticate(account.UserID)
	if err != nil {
		return nil, err
	}
	if previous != 0 && previous != account.UserID {
		// The connection switches accounts; the old account goes offline.
		d.release(ctx, c.conn, previous)
	}

	// Registration, the ONLINE write and the friend push happen under the
	// presence lock, after any cleanup of an older connection has finished.
	unlock := d.presence.lock(account.UserID)
	defer unlock()

	if replaced, err := d.sessions.Register(account.UserID, c.conn); err != nil {
		return nil, err
	} else if replaced != nil {
		// Last login wins. The older connection stays open but no longer
		// receives pushes.
		c.conn.Logger().Info("previous session orphaned",
			zap.Int64("user_id", account.UserID), zap.String("previous_conn_id", replaced.Handle.ID()))
	}
	user, err := d.services.Users.MarkOnline(ctx, account.UserID)
	if err != nil {
		d.sessions.UnregisterHandle(account.UserID, c.conn)
		c.conn.ClearUser()
		return nil, err
	}

	c.conn.Logger().Info("user logged in", zap.Int64("user_id", user.UserID))
	d.notifyFriends(ctx, user.UserID, protocol.NotifyUserOnline, user)
	return &reply{message: "Login successful", data: map[string]interface{}{"user": user}}, nil
}

func (d *Dispatcher) logout(ctx context.Context, c *call) (*reply, error) {
	if !d.release(ctx, c.conn, c.userID) {
		// A newer login owns the session; only this connection forgets it.
		c.conn.Logger().Info("logout from orphaned connection", zap.Int64("user_id", c.userID))
	}
	c.conn.ClearUser()
	return &reply{message: "Logout successful"}, nil
}

type profileRequest struct {
	FullName      string `json:"fullName"`
	StatusMessage string `json:"statusMessage"`
}

func (d *Dispatcher) updateProfile(ctx context.Context, c *call) (*reply, error) {
	var in profileRequest
	if err := c.bind(&in); err != nil {
		return nil, err
	}
	if err := d.services.Users.UpdateProfile(ctx, c.userID, in.FullName, in.StatusMessage); err != nil {
		return nil, err
	}
	return &reply{message: "Profile updated"}, nil
}

type statusRequest struct {
	Status string `json:"status"`
}

func (d *Dispatcher) updateStatus(ctx context.Context, c *call) (*reply, error) {
	var in statusRequest
	if err := c.bind(&in); err != nil {
		return nil, err
	}
	status, err := d.services.Users.UpdateStatus(ctx, c.userID, in.Status)
	if err != nil {
		return nil, err
	}
	d.notifyFriends(ctx, c.userID, protocol.StatusChange, map[string]interface{}{
		"userId": c.userID,
		"status": status,
	})
	return &reply{message: "Status updated"}, nil
}

type searchRequest struct {
	Keyword string `json:"keyword"`
}

func (d *Dispatcher) searchUsers(ctx context.Context, c *call) (*reply, error) {
	var in searchRequest
	if err := c.bind(&in); err != nil {
		return nil, err
	}
	users, err := d.services.Users.Search(ctx, in.Keyword)
	if err != nil {
		return nil, err
	}
	return &reply{message: "Search completed", data: map[string]interface{}{"users": users}}, nil
}

type userRequest struct {
	UserID int64 `json:"userId"`
}

func (d *Dispatcher) getUserProfile(ctx context.Context, c *call) (*reply, error) {
	var in userRequest
	if err := c.bind(&in); err != nil {
		return nil, err
	}
	if err := requireID("userId", in.UserID); err != nil {
		return nil, err
	}
	user, err := d.services.Users.Profile(ctx, in.UserID)
	if err != nil {
		return nil, err
	}
	return &reply{message: "Profile retrieved", data: map[string]interface{}{"user": user}}, nil
}
