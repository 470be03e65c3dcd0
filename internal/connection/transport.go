package connection

import (
	"net"
	"time"

	"chatrelay/internal/protocol"
)

// Transport moves whole envelopes over one physical connection.
// ReadEnvelope is only ever called from the connection's read loop and
// WriteEnvelope only from its writer goroutine, so implementations need not
// lock. A *protocol.DecodeError from ReadEnvelope means one bad frame; any
// other error ends the connection.
type Transport interface {
	ReadEnvelope() (*protocol.Envelope, error)
	WriteEnvelope(env *protocol.Envelope) error
	Close() error
	RemoteAddr() string
}

// LineTransport speaks newline-delimited JSON over a stream connection.
type LineTransport struct {
	conn         net.Conn
	dec          *protocol.Decoder
	writeTimeout time.Duration
}

// NewLineTransport wraps conn. A zero writeTimeout disables write deadlines.
func NewLineTransport(conn net.Conn, maxLine int, writeTimeout time.Duration) *LineTransport {
	if maxLine <= 0 {
		maxLine = protocol.DefaultMaxLineBytes
	}
	return &LineTransport{
		conn:         conn,
		dec:          protocol.NewDecoderSize(conn, maxLine),
		writeTimeout: writeTimeout,
	}
}

func (t *LineTransport) ReadEnvelope() (*protocol.Envelope, error) {
	return t.dec.Decode()
}

func (t *LineTransport) WriteEnvelope(env *protocol.Envelope) error {
	line, err := protocol.Marshal(env)
	if err != nil {
		return err
	}
	if t.writeTimeout > 0 {
		if err := t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout)); err != nil {
			return err
		}
	}
	_, err = t.conn.Write(line)
	return err
}

func (t *LineTransport) Close() error {
	return t.conn.Close()
}

func (t *LineTransport) RemoteAddr() string {
	if addr := t.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}
