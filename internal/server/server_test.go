package server

import (
	"bufio"
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

type echoHandler struct{}

func (echoHandler) Dispatch(_ context.Context, _ *connection.Connection, req *protocol.Envelope) *protocol.Envelope {
	resp, _ := protocol.NewResponse(req.Action, true, "echo", req.Data)
	resp.ID = req.ID
	return resp
}

func (echoHandler) Disconnected(context.Context, *connection.Connection) {}

func startServer(t *testing.T, workers int) *Server {
	t.Helper()
	s := New(Config{MaxWorkers: workers, WriteTimeout: time.Second, Connection: connection.DefaultOptions()},
		echoHandler{}, zaptest.NewLogger(t))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve(context.Background(), ln) }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
		assert.ErrorIs(t, <-errCh, ErrServerClosed)
	})

	require.Eventually(t, func() bool { return s.Addr() != nil }, time.Second, 5*time.Millisecond)
	return s
}

func dial(t *testing.T, s *Server) (net.Conn, *bufio.Reader) {
	t.Helper()
	c, err := net.Dial("tcp", s.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, bufio.NewReader(c)
}

func roundTrip(t *testing.T, c net.Conn, r *bufio.Reader, line string) *protocol.Envelope {
	t.Helper()
	require.NoError(t, c.SetDeadline(time.Now().Add(2*time.Second)))
	_, err := c.Write([]byte(line + "\n"))
	require.NoError(t, err)
	resp, err := r.ReadBytes('\n')
	require.NoError(t, err)
	env, err := protocol.Unmarshal(resp)
	require.NoError(t, err)
	return env
}

func TestServer_ServesRequests(t *testing.T) {
	s := startServer(t, 4)
	c, r := dial(t, s)

	resp := roundTrip(t, c, r, `{"id":1,"action":"SEARCH_USERS","data":{"keyword":"a"}}`)
	assert.Equal(t, uint64(1), resp.ID)
	assert.True(t, resp.Success)

	bad := roundTrip(t, c, r, `not json`)
	assert.Equal(t, protocol.ActionError, bad.Action)

	again := roundTrip(t, c, r, `{"action":"GET_FRIENDS"}`)
	assert.True(t, again.Success, "a malformed line does not close the connection")
}

func TestServer_SaturatedPoolQueues(t *testing.T) {
	s := startServer(t, 1)

	c1, r1 := dial(t, s)
	roundTrip(t, c1, r1, `{"action":"GET_FRIENDS"}`)

	c2, r2 := dial(t, s)
	require.Eventually(t, func() bool { return s.Stats()["queued_connections"] == 1 }, 2*time.Second, 10*time.Millisecond)

	_, err := c2.Write([]byte(`{"action":"GET_GROUPS"}` + "\n"))
	require.NoError(t, err)
	require.NoError(t, c2.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	_, err = r2.ReadBytes('\n')
	require.Error(t, err, "queued connection is not served yet")

	require.NoError(t, c1.Close())

	require.NoError(t, c2.SetReadDeadline(time.Now().Add(2*time.Second)))
	line, err := r2.ReadBytes('\n')
	require.NoError(t, err)
	env, err := protocol.Unmarshal(line)
	require.NoError(t, err)
	assert.Equal(t, protocol.ActionGetGroups, env.Action)
	assert.Equal(t, int64(1), s.Stats()["active_connections"])
}

func TestServer_ShutdownClosesConnections(t *testing.T) {
	s := New(Config{MaxWorkers: 2}, echoHandler{}, zaptest.NewLogger(t))
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve(context.Background(), ln) }()
	require.Eventually(t, func() bool { return s.Addr() != nil }, time.Second, 5*time.Millisecond)

	c, r := dial(t, s)
	roundTrip(t, c, r, `{"action":"GET_FRIENDS"}`)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
	assert.ErrorIs(t, <-errCh, ErrServerClosed)

	require.NoError(t, c.SetReadDeadline(time.Now().Add(time.Second)))
	_, err = r.ReadBytes('\n')
	assert.Error(t, err, "server side closed the socket")
	assert.Zero(t, s.Stats()["active_connections"])
}

func TestServer_ServeAfterCloseFails(t *testing.T) {
	s := New(Config{}, echoHandler{}, nil)
	require.NoError(t, s.Close())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	assert.ErrorIs(t, s.Serve(context.Background(), ln), ErrServerClosed)
	assert.Equal(t, int64(100), s.Stats()["max_workers"])
}
