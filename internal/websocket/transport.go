package websocket

import (
	"bytes"
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"chatrelay/internal/connection"
	"chatrelay/internal/protocol"
)

// Heartbeat timing.
// TECHNICAL DISCOVERY: A 60-second read deadline refreshed by pongs, with
// pings every 30 seconds, detects dead peers that never send a close frame.
const (
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
	controlWait  = 10 * time.Second
)

var _ connection.Transport = (*Transport)(nil)

// Transport carries one envelope per websocket text frame.
type Transport struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	done         chan struct{}
	closeOnce    sync.Once
}

// NewTransport wraps conn and starts its heartbeat.
func NewTransport(conn *websocket.Conn, maxMessageBytes int64, writeTimeout time.Duration) (*Transport, error) {
	if conn == nil {
		return nil, ErrNilConn
	}
	if maxMessageBytes > 0 {
		conn.SetReadLimit(maxMessageBytes)
	}
	t := &Transport{conn: conn, writeTimeout: writeTimeout, done: make(chan struct{})}

	if err := conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return nil, err
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go t.keepalive()
	return t, nil
}

// keepalive pings until the transport closes. WriteControl may run
// concurrently with the writer goroutine's WriteMessage.
func (t *Transport) keepalive() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := t.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(controlWait)); err != nil {
				return
			}
		case <-t.done:
			return
		}
	}
}

func (t *Transport) ReadEnvelope() (*protocol.Envelope, error) {
	_, data, err := t.conn.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
			return nil, io.EOF
		}
		return nil, err
	}
	// Any frame resets the idle deadline, not only pongs.
	_ = t.conn.SetReadDeadline(time.Now().Add(pongWait))
	return protocol.Unmarshal(data)
}

func (t *Transport) WriteEnvelope(env *protocol.Envelope) error {
	line, err := protocol.Marshal(env)
	if err != nil {
		return err
	}
	if t.writeTimeout > 0 {
		if err := t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout)); err != nil {
			return err
		}
	}
	return t.conn.WriteMessage(websocket.TextMessage, bytes.TrimRight(line, "\n"))
}

func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)
		_ = t.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		err = t.conn.Close()
	})
	return err
}

func (t *Transport) RemoteAddr() string {
	if addr := t.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}
