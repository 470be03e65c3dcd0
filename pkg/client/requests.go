package client

import (
	"context"
	"encoding/json"

	"chatrelay/internal/protocol"
	"chatrelay/pkg/types"
)

// userReply is the data shape of REGISTER and LOGIN responses.
type userReply struct {
	User *types.User `json:"user"`
}

// Register creates an account.
func (c *Client) Register(ctx context.Context, reg types.Registration) (*types.User, error) {
	resp, err := c.Call(ctx, protocol.ActionRegister, reg)
	if err != nil {
		return nil, err
	}
	var out userReply
	if err := resp.Bind(&out); err != nil {
		return nil, err
	}
	return out.User, nil
}

// Login authenticates this connection.
func (c *Client) Login(ctx context.Context, username, password string) (*types.User, error) {
	resp, err := c.Call(ctx, protocol.ActionLogin, map[string]string{
		"username": username,
		"password": password,
	})
	if err != nil {
		return nil, err
	}
	var out userReply
	if err := resp.Bind(&out); err != nil {
		return nil, err
	}
	return out.User, nil
}

func (c *Client) Logout(ctx context.Context) error {
	_, err := c.Call(ctx, protocol.ActionLogout, nil)
	return err
}

// SendMessage sends a private text message.
func (c *Client) SendMessage(ctx context.Context, receiverID int64, content string) (*types.Message, error) {
	resp, err := c.Call(ctx, protocol.ActionSendMessage, map[string]interface{}{
		"receiverId": receiverID,
		"content":    content,
		"type":       types.MessageText,
	})
	if err != nil {
		return nil, err
	}
	var out struct {
		Message *types.Message `json:"message"`
	}
	if err := resp.Bind(&out); err != nil {
		return nil, err
	}
	return out.Message, nil
}

// CallSignal relays a signal to receiverID. signalType becomes the push
// action the receiver sees, such as VIDEO_FRAME. The server sends nothing
// back.
func (c *Client) CallSignal(receiverID int64, signalType Action, fields map[string]interface{}) error {
	data := make(map[string]interface{}, len(fields)+2)
	for k, v := range fields {
		data[k] = v
	}
	data["receiverId"] = receiverID
	if signalType != "" {
		data["type"] = signalType
	}
	return c.Send(protocol.ActionCallSignal, data)
}

// Payload extracts the inner data of a push, which the server nests under
// a "data" key.
func Payload(env *Envelope, v interface{}) error {
	var outer struct {
		Data json.RawMessage `json:"data"`
	}
	if err := env.Bind(&outer); err != nil {
		return err
	}
	if len(outer.Data) == 0 {
		return json.Unmarshal([]byte("{}"), v)
	}
	return json.Unmarshal(outer.Data, v)
}
