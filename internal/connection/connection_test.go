package connection

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"chatrelay/internal/protocol"
)

type echoHandler struct {
	dispatched   atomic.Int32
	disconnected atomic.Int32
	lastUser     atomic.Int64
}

func (h *echoHandler) Dispatch(_ context.Context, _ *Connection, req *protocol.Envelope) *protocol.Envelope {
	h.dispatched.Add(1)
	if req.Action == protocol.ActionCallSignal {
		return nil
	}
	resp, _ := protocol.NewResponse(req.Action, true, "ok", req.Data)
	resp.ID = req.ID
	return resp
}

func (h *echoHandler) Disconnected(_ context.Context, c *Connection) {
	h.disconnected.Add(1)
	if id, ok := c.UserID(); ok {
		h.lastUser.Store(id)
	}
}

// pipePair returns a server-side Connection and the client end of the pipe.
func pipePair(t *testing.T) (*Connection, net.Conn) {
	t.Helper()
	server, client := net.Pipe()
	c, err := New(NewLineTransport(server, 0, time.Second), DefaultOptions(), zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = c.Close()
		_ = client.Close()
	})
	return c, client
}

func readEnvelope(t *testing.T, r *bufio.Reader) *protocol.Envelope {
	t.Helper()
	line, err := r.ReadBytes('\n')
	require.NoError(t, err)
	env, err := protocol.Unmarshal(line)
	require.NoError(t, err)
	return env
}

func TestNew_RejectsNilTransport(t *testing.T) {
	_, err := New(nil, DefaultOptions(), nil)
	assert.ErrorIs(t, err, ErrNilTransport)
}

func TestConnection_InitialState(t *testing.T) {
	c, _ := pipePair(t)

	assert.NotEmpty(t, c.ID())
	assert.Equal(t, StateConnected, c.State())
	assert.False(t, c.IsAuthenticated())
	assert.Equal(t, 100, cap(c.writeCh))
}

func TestConnection_SendWritesOneLine(t *testing.T) {
	c, client := pipePair(t)
	r := bufio.NewReader(client)

	env, err := protocol.NewNotification(protocol.NotifyNewMessage, map[string]string{"content": "hi"})
	require.NoError(t, err)
	require.NoError(t, c.Send(env))

	got := readEnvelope(t, r)
	assert.Equal(t, protocol.NotifyNewMessage, got.Action)
	assert.JSONEq(t, `{"data":{"content":"hi"}}`, string(got.Data))
}

func TestConnection_AuthenticateAndClear(t *testing.T) {
	c, _ := pipePair(t)

	prev, err := c.Authenticate(7)
	require.NoError(t, err)
	assert.Zero(t, prev)
	assert.Equal(t, StateAuthenticated, c.State())

	prev, err = c.Authenticate(8)
	require.NoError(t, err)
	assert.Equal(t, int64(7), prev)

	assert.Equal(t, int64(8), c.ClearUser())
	assert.Equal(t, StateConnected, c.State())
	assert.False(t, c.IsAuthenticated())
}

func TestConnection_CloseIsTerminal(t *testing.T) {
	c, _ := pipePair(t)

	require.NoError(t, c.Close())
	assert.NoError(t, c.Close())
	assert.Equal(t, StateClosed, c.State())

	assert.ErrorIs(t, c.Send(&protocol.Envelope{Action: protocol.NotifyUserOnline}), ErrConnectionClosed)
	_, err := c.Authenticate(1)
	assert.ErrorIs(t, err, ErrConnectionClosed)
}

func TestConnection_RunDispatchesAndEchoesID(t *testing.T) {
	c, client := pipePair(t)
	h := &echoHandler{}
	done := make(chan error, 1)
	go func() { done <- c.Run(context.Background(), h) }()

	r := bufio.NewReader(client)
	_, err := client.Write([]byte(`{"id":3,"action":"SEARCH_USERS","data":{"keyword":"al"}}` + "\n"))
	require.NoError(t, err)

	resp := readEnvelope(t, r)
	assert.Equal(t, uint64(3), resp.ID)
	assert.Equal(t, protocol.ActionSearchUsers, resp.Action)
	assert.True(t, resp.Success)

	require.NoError(t, client.Close())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after peer close")
	}
	assert.Equal(t, int32(1), h.disconnected.Load())
	assert.Equal(t, StateClosed, c.State())
}

func TestConnection_MalformedLineKeepsConnectionOpen(t *testing.T) {
	c, client := pipePair(t)
	h := &echoHandler{}
	go func() { _ = c.Run(context.Background(), h) }()

	r := bufio.NewReader(client)
	_, err := client.Write([]byte("{not json\n"))
	require.NoError(t, err)

	bad := readEnvelope(t, r)
	assert.Equal(t, protocol.ActionError, bad.Action)
	assert.False(t, bad.Success)
	assert.Equal(t, MsgInvalidRequest, bad.Message)

	_, err = client.Write([]byte(`{"action":"GET_FRIENDS"}` + "\n"))
	require.NoError(t, err)

	good := readEnvelope(t, r)
	assert.Equal(t, protocol.ActionGetFriends, good.Action)
	assert.True(t, good.Success)
	assert.Equal(t, int32(1), h.dispatched.Load())
}

func TestConnection_NilResponseWritesNothing(t *testing.T) {
	c, client := pipePair(t)
	h := &echoHandler{}
	go func() { _ = c.Run(context.Background(), h) }()

	r := bufio.NewReader(client)
	_, err := client.Write([]byte(`{"action":"CALL_SIGNAL","data":{"receiverId":2}}` + "\n"))
	require.NoError(t, err)
	_, err = client.Write([]byte(`{"action":"GET_GROUPS"}` + "\n"))
	require.NoError(t, err)

	// The first line produced no response, so the next line read answers GET_GROUPS.
	resp := readEnvelope(t, r)
	assert.Equal(t, protocol.ActionGetGroups, resp.Action)
	assert.Equal(t, int32(2), h.dispatched.Load())
}

func TestConnection_DisconnectedSeesBoundUser(t *testing.T) {
	c, client := pipePair(t)
	h := &echoHandler{}
	_, err := c.Authenticate(42)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		_ = c.Run(context.Background(), h)
		close(done)
	}()

	require.NoError(t, client.Close())
	<-done
	assert.Equal(t, int64(42), h.lastUser.Load())
}

func TestConnection_ContextCancelClosesConnection(t *testing.T) {
	c, _ := pipePair(t)
	h := &echoHandler{}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, h) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on context cancel")
	}
	assert.Equal(t, int32(1), h.disconnected.Load())
}

func TestConnection_ConcurrentSendsStayFramed(t *testing.T) {
	c, client := pipePair(t)
	const senders, perSender = 10, 50

	received := make(chan map[string]int, 1)
	go func() {
		r := bufio.NewReader(client)
		counts := make(map[string]int)
		for i := 0; i < senders*perSender; i++ {
			line, err := r.ReadBytes('\n')
			if err != nil {
				break
			}
			env, err := protocol.Unmarshal(line)
			if err != nil {
				break
			}
			var payload struct {
				Data struct {
					Sender string `json:"sender"`
				} `json:"data"`
			}
			if json.Unmarshal(env.Data, &payload) == nil {
				counts[payload.Data.Sender]++
			}
		}
		received <- counts
	}()

	var wg sync.WaitGroup
	for s := 0; s < senders; s++ {
		wg.Add(1)
		go func(s int) {
			defer wg.Done()
			for i := 0; i < perSender; i++ {
				env, _ := protocol.NewNotification(protocol.NotifyNewMessage, map[string]string{"sender": fmt.Sprint(s)})
				assert.NoError(t, c.Send(env))
			}
		}(s)
	}
	wg.Wait()

	select {
	case counts := <-received:
		require.Len(t, counts, senders)
		for _, n := range counts {
			assert.Equal(t, perSender, n)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out reading frames")
	}
}

func TestConnection_SendTimesOutOnStalledPeer(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()
	c, err := New(NewLineTransport(server, 0, 0), Options{SendBuffer: 1, SendTimeout: 50 * time.Millisecond}, nil)
	require.NoError(t, err)
	defer c.Close()

	env := &protocol.Envelope{Action: protocol.SignalVideoFrame}
	// One frame blocks in the writer on the unread pipe, one fills the queue.
	require.NoError(t, c.Send(env))
	require.Eventually(t, func() bool { return len(c.writeCh) == 0 }, time.Second, 5*time.Millisecond)
	require.NoError(t, c.Send(env))

	assert.ErrorIs(t, c.Send(env), ErrWriteTimeout)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "connected", StateConnected.String())
	assert.Equal(t, "authenticated", StateAuthenticated.String())
	assert.Equal(t, "closing", StateClosing.String())
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "unknown", State(99).String())
}

// stalledTransport feeds scripted reads and never completes a write until
// closed.
type stalledTransport struct {
	reads     chan *protocol.Envelope
	closed    chan struct{}
	closeOnce sync.Once
}

func newStalledTransport() *stalledTransport {
	return &stalledTransport{reads: make(chan *protocol.Envelope, 8), closed: make(chan struct{})}
}

func (s *stalledTransport) ReadEnvelope() (*protocol.Envelope, error) {
	select {
	case env, ok := <-s.reads:
		if !ok {
			return nil, io.EOF
		}
		if env == nil {
			return nil, &protocol.DecodeError{Line: []byte("garbage"), Err: fmt.Errorf("bad json")}
		}
		return env, nil
	case <-s.closed:
		return nil, io.EOF
	}
}

func (s *stalledTransport) WriteEnvelope(*protocol.Envelope) error {
	<-s.closed
	return net.ErrClosed
}

func (s *stalledTransport) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

func (s *stalledTransport) RemoteAddr() string { return "stalled" }

func TestConnection_MalformedLineSurvivesFullSendQueue(t *testing.T) {
	transport := newStalledTransport()
	c, err := New(transport, Options{SendBuffer: 1, SendTimeout: 20 * time.Millisecond}, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer c.Close()

	h := &echoHandler{}
	done := make(chan error, 1)
	go func() { done <- c.Run(context.Background(), h) }()

	// The writer stalls on the first reply and the queue fills, so the later
	// error replies cannot be queued.
	for i := 0; i < 4; i++ {
		transport.reads <- nil
	}
	transport.reads <- &protocol.Envelope{Action: protocol.ActionGetFriends}

	require.Eventually(t, func() bool { return h.dispatched.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Len(t, c.writeCh, 1)
	assert.NotEqual(t, StateClosed, c.State())

	close(transport.reads)
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
}
