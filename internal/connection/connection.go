package connection

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"chatrelay/internal/protocol"
)

// State is the lifecycle position of a connection.
type State int32

const (
	StateConnected State = iota
	StateAuthenticated
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateAuthenticated:
		return "authenticated"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Handler consumes the requests read by a connection. Dispatch returns the
// response to send, or nil when the request expects none. Disconnected runs
// exactly once when the read loop ends, before the transport is released.
type Handler interface {
	Dispatch(ctx context.Context, c *Connection, req *protocol.Envelope) *protocol.Envelope
	Disconnected(ctx context.Context, c *Connection)
}

// Options tunes the outbound path.
type Options struct {
	// SendBuffer is the depth of the outbound queue.
	SendBuffer int
	// SendTimeout bounds how long Send waits on a full queue. Zero waits
	// until the connection closes.
	SendTimeout time.Duration
}

// DefaultOptions returns the production send settings.
func DefaultOptions() Options {
	return Options{SendBuffer: 100, SendTimeout: 5 * time.Second}
}

// Connection owns one client connection end to end.
// ARCHITECTURAL DISCOVERY: Writes from the read loop and from routers on
// other goroutines all funnel through writeCh into a single writer
// goroutine, so the transport never sees two concurrent writers.
type Connection struct {
	id          string
	transport   Transport
	logger      *zap.Logger
	writeCh     chan *protocol.Envelope
	sendTimeout time.Duration

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	mu              sync.RWMutex
	state           State
	userID          int64
	authenticatedAt time.Time
}

// New wraps transport and starts its writer goroutine.
func New(transport Transport, opts Options, logger *zap.Logger) (*Connection, error) {
	if transport == nil {
		return nil, ErrNilTransport
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = DefaultOptions().SendBuffer
	}

	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		id:          id,
		transport:   transport,
		writeCh:     make(chan *protocol.Envelope, opts.SendBuffer),
		sendTimeout: opts.SendTimeout,
		ctx:         ctx,
		cancel:      cancel,
		state:       StateConnected,
		logger: logger.Named("connection").With(
			zap.String("conn_id", id),
			zap.String("remote_addr", transport.RemoteAddr())),
	}

	go c.writeLoop()
	return c, nil
}

// ID returns the connection's unique id.
func (c *Connection) ID() string { return c.id }

// RemoteAddr returns the peer address as reported by the transport.
func (c *Connection) RemoteAddr() string { return c.transport.RemoteAddr() }

// Logger returns the connection-scoped logger.
func (c *Connection) Logger() *zap.Logger { return c.logger }

// Done is closed once the connection starts shutting down.
func (c *Connection) Done() <-chan struct{} { return c.ctx.Done() }

func (c *Connection) writeLoop() {
	for {
		select {
		case env := <-c.writeCh:
			if err := c.transport.WriteEnvelope(env); err != nil {
				// A dead peer ends the connection rather than the process.
				c.logger.Debug("write failed", zap.Error(err))
				_ = c.Close()
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// Send queues env for the writer goroutine. It is safe to call from any
// goroutine.
func (c *Connection) Send(env *protocol.Envelope) error {
	if env == nil {
		return nil
	}
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	select {
	case c.writeCh <- env:
		return nil
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	var timeout <-chan time.Time
	if c.sendTimeout > 0 {
		timer := time.NewTimer(c.sendTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case c.writeCh <- env:
		return nil
	case <-timeout:
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

// Close stops the writer and releases the transport. Safe to call more
// than once.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.advance(StateClosing)
		c.cancel()
		err = c.transport.Close()
		c.advance(StateClosed)
	})
	return err
}

// advance moves the state forward; it never leaves Closing or Closed.
func (c *Connection) advance(to State) {
	c.mu.Lock()
	if to > c.state {
		c.state = to
	}
	c.mu.Unlock()
}

// State returns the current lifecycle state.
func (c *Connection) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Authenticate binds userID to the connection and returns the user it was
// previously bound to, or 0.
func (c *Connection) Authenticate(userID int64) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state >= StateClosing {
		return 0, ErrConnectionClosed
	}
	previous := c.userID
	c.userID = userID
	c.authenticatedAt = time.Now()
	c.state = StateAuthenticated
	return previous, nil
}

// ClearUser drops the bound user and returns it. The connection stays
// open and falls back to Connected.
func (c *Connection) ClearUser() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	previous := c.userID
	c.userID = 0
	c.authenticatedAt = time.Time{}
	if c.state == StateAuthenticated {
		c.state = StateConnected
	}
	return previous
}

// UserID returns the bound user, if any.
func (c *Connection) UserID() (int64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID, c.userID != 0
}

// IsAuthenticated reports whether a user is bound.
func (c *Connection) IsAuthenticated() bool {
	_, ok := c.UserID()
	return ok
}

// Run is the blocking read loop. It returns nil on an orderly close and
// the transport error otherwise. h.Disconnected always runs before the
// transport is released.
func (c *Connection) Run(ctx context.Context, h Handler) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = c.Close()
		case <-stop:
		}
	}()

	defer func() {
		c.advance(StateClosing)
		h.Disconnected(ctx, c)
		_ = c.Close()
	}()

	c.logger.Info("connection opened")

	for {
		req, err := c.transport.ReadEnvelope()
		if err != nil {
			if protocol.IsDecodeError(err) {
				c.logger.Warn("dropping malformed request", zap.Error(err))
				if sendErr := c.Send(protocol.Failure(protocol.ActionError, MsgInvalidRequest)); sendErr != nil {
					c.logger.Debug("error reply not delivered", zap.Error(sendErr))
				}
				continue
			}
			if c.isOrderlyClose(err) {
				c.logger.Info("connection closed")
				return nil
			}
			c.logger.Warn("read failed", zap.Error(err))
			return err
		}

		if resp := h.Dispatch(ctx, c, req); resp != nil {
			if err := c.Send(resp); err != nil {
				c.logger.Debug("response not delivered", zap.String("action", resp.Action.String()), zap.Error(err))
			}
		}
	}
}

func (c *Connection) isOrderlyClose(err error) bool {
	select {
	case <-c.ctx.Done():
		return true
	default:
	}
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe)
}
