package client

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"chatrelay/internal/connection"
	"chatrelay/internal/protocol"
)

// fakeServer is the far end of a net.Pipe speaking the line protocol.
type fakeServer struct {
	t         *testing.T
	transport *connection.LineTransport
}

func newPair(t *testing.T) (*Client, *fakeServer) {
	t.Helper()
	serverEnd, clientEnd := net.Pipe()
	c := New(connection.NewLineTransport(clientEnd, 0, time.Second), WithLogger(zaptest.NewLogger(t)))
	srv := &fakeServer{t: t, transport: connection.NewLineTransport(serverEnd, 0, time.Second)}
	t.Cleanup(func() {
		_ = c.Close()
		_ = serverEnd.Close()
	})
	return c, srv
}

func (s *fakeServer) read() *protocol.Envelope {
	s.t.Helper()
	env, err := s.transport.ReadEnvelope()
	require.NoError(s.t, err)
	return env
}

func (s *fakeServer) write(env *protocol.Envelope) {
	s.t.Helper()
	require.NoError(s.t, s.transport.WriteEnvelope(env))
}

func respond(req *protocol.Envelope, keepID bool, message string) *protocol.Envelope {
	resp, _ := protocol.NewResponse(req.Action, true, message, nil)
	if keepID {
		resp.ID = req.ID
	}
	return resp
}

type result struct {
	env *protocol.Envelope
	err error
}

func callAsync(c *Client, action protocol.Action) <-chan result {
	ch := make(chan result, 1)
	go func() {
		env, err := c.Call(context.Background(), action, nil)
		ch <- result{env, err}
	}()
	return ch
}

func await(t *testing.T, ch <-chan result) result {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("call did not complete")
		return result{}
	}
}

func TestCall_CorrelatesByID(t *testing.T) {
	c, srv := newPair(t)

	first := callAsync(c, protocol.ActionGetFriends)
	req1 := srv.read()
	second := callAsync(c, protocol.ActionGetFriends)
	req2 := srv.read()
	assert.NotEqual(t, req1.ID, req2.ID)
	assert.Less(t, req1.ID, req2.ID)

	// Answer out of order.
	srv.write(respond(req2, true, "second"))
	srv.write(respond(req1, true, "first"))

	r1, r2 := await(t, first), await(t, second)
	require.NoError(t, r1.err)
	require.NoError(t, r2.err)
	assert.Equal(t, "first", r1.env.Message)
	assert.Equal(t, "second", r2.env.Message)
	assert.Zero(t, c.Pending())
}

func TestCall_FallsBackToOldestSameAction(t *testing.T) {
	c, srv := newPair(t)

	friends := callAsync(c, protocol.ActionGetFriends)
	srv.read()
	groups := callAsync(c, protocol.ActionGetGroups)
	reqGroups := srv.read()
	friends2 := callAsync(c, protocol.ActionGetFriends)
	reqFriends2 := srv.read()

	srv.write(respond(reqGroups, false, "groups"))
	srv.write(respond(reqFriends2, false, "friends-a"))
	srv.write(respond(reqFriends2, false, "friends-b"))

	assert.Equal(t, "groups", await(t, groups).env.Message)
	assert.Equal(t, "friends-a", await(t, friends).env.Message)
	assert.Equal(t, "friends-b", await(t, friends2).env.Message)
}

func TestCall_FailureReturnsResponseError(t *testing.T) {
	c, srv := newPair(t)

	ch := callAsync(c, protocol.ActionLogin)
	req := srv.read()
	fail := protocol.Failure(protocol.ActionLogin, "Invalid credentials")
	fail.ID = req.ID
	srv.write(fail)

	r := await(t, ch)
	var respErr *ResponseError
	require.ErrorAs(t, r.err, &respErr)
	assert.Equal(t, "Invalid credentials", respErr.Message)
	require.NotNil(t, r.env)
	assert.False(t, r.env.Success)
}

func TestNotifications_RouteToHandlers(t *testing.T) {
	c, srv := newPair(t)

	messages := make(chan *protocol.Envelope, 1)
	others := make(chan *protocol.Envelope, 2)
	c.On(protocol.NotifyNewMessage, func(env *Envelope) { messages <- env })
	c.OnAny(func(env *Envelope) { others <- env })

	pending := callAsync(c, protocol.ActionGetFriends)
	req := srv.read()

	push, err := protocol.NewNotification(protocol.NotifyNewMessage, map[string]string{"messageContent": "hi"})
	require.NoError(t, err)
	srv.write(push)

	frame, err := protocol.NewNotification(protocol.SignalVideoFrame, map[string]int{"receiverId": 2})
	require.NoError(t, err)
	srv.write(frame)

	srv.write(respond(req, true, "done"))

	select {
	case env := <-messages:
		var body struct {
			MessageContent string `json:"messageContent"`
		}
		require.NoError(t, Payload(env, &body))
		assert.Equal(t, "hi", body.MessageContent)
	case <-time.After(2 * time.Second):
		t.Fatal("notification not delivered")
	}

	select {
	case env := <-others:
		assert.Equal(t, protocol.SignalVideoFrame, env.Action)
	case <-time.After(2 * time.Second):
		t.Fatal("fallback handler not called")
	}

	assert.Equal(t, "done", await(t, pending).env.Message)
}

func TestCall_ContextCancelForgetsPending(t *testing.T) {
	c, srv := newPair(t)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := c.Call(ctx, protocol.ActionGetGroups, nil)
		errCh <- err
	}()
	srv.read()
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("cancel not observed")
	}
	assert.Zero(t, c.Pending())
}

func TestClose_FailsPendingCalls(t *testing.T) {
	c, srv := newPair(t)

	ch := callAsync(c, protocol.ActionGetGroups)
	srv.read()
	require.NoError(t, c.Close())

	r := await(t, ch)
	assert.ErrorIs(t, r.err, ErrClosed)

	_, err := c.Call(context.Background(), protocol.ActionGetGroups, nil)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, c.Send(protocol.ActionLogout, nil), ErrClosed)
}

func TestServerHangupClosesClient(t *testing.T) {
	c, srv := newPair(t)
	require.NoError(t, srv.transport.Close())

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("client did not notice hangup")
	}
}

func TestCallSignal_SendsWithoutID(t *testing.T) {
	c, srv := newPair(t)

	require.NoError(t, c.CallSignal(7, protocol.SignalAudioChunk, map[string]interface{}{"chunk": "AAAA"}))
	req := srv.read()
	assert.Equal(t, protocol.ActionCallSignal, req.Action)
	assert.Zero(t, req.ID)
	assert.JSONEq(t, `{"receiverId":7,"type":"AUDIO_CHUNK","chunk":"AAAA"}`, string(req.Data))
}

func TestPayload_MissingInnerData(t *testing.T) {
	env := &protocol.Envelope{Action: protocol.NotifyCallEnded}
	var v map[string]interface{}
	require.NoError(t, Payload(env, &v))
	assert.Empty(t, v)
}
