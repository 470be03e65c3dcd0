package protocol

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
)

// DefaultMaxLineBytes bounds a single frame. Media chunks are base64 and
// can be large, so the default is generous.
const DefaultMaxLineBytes = 16 << 20

// ErrLineTooLong is wrapped by a DecodeError when a frame exceeds the limit.
var ErrLineTooLong = errors.New("line exceeds maximum length")

// DecodeError reports a frame that could not be decoded. The stream is
// still usable: the offending line has been consumed.
type DecodeError struct {
	Line []byte
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode envelope: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// IsDecodeError reports whether err is a per-line decode failure rather
// than a transport failure.
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}

// Marshal encodes one envelope as a newline-terminated JSON line.
func Marshal(env *Envelope) ([]byte, error) {
	out := *env
	if len(out.Data) == 0 {
		out.Data = emptyObject
	}
	line, err := json.Marshal(&out)
	if err != nil {
		return nil, err
	}
	return append(line, '\n'), nil
}

// Unmarshal decodes one frame, with or without its trailing newline.
func Unmarshal(line []byte) (*Envelope, error) {
	line = bytes.TrimRight(line, "\r\n")
	if len(bytes.TrimSpace(line)) == 0 {
		return nil, &DecodeError{Line: line, Err: errors.New("empty line")}
	}
	var env Envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return nil, &DecodeError{Line: line, Err: err}
	}
	if env.Action == "" {
		return nil, &DecodeError{Line: line, Err: errors.New("missing action")}
	}
	return &env, nil
}

// Encoder writes envelopes as JSON lines. Safe for concurrent use.
type Encoder struct {
	mu sync.Mutex
	w  io.Writer
}

// NewEncoder returns an encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode writes one envelope and its newline in a single Write.
func (e *Encoder) Encode(env *Envelope) error {
	line, err := Marshal(env)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	_, err = e.w.Write(line)
	return err
}

// Decoder reads newline-delimited envelopes.
type Decoder struct {
	r       *bufio.Reader
	maxLine int
}

// NewDecoder returns a decoder with DefaultMaxLineBytes.
func NewDecoder(r io.Reader) *Decoder {
	return NewDecoderSize(r, DefaultMaxLineBytes)
}

// NewDecoderSize returns a decoder rejecting lines longer than maxLine.
func NewDecoderSize(r io.Reader, maxLine int) *Decoder {
	return &Decoder{r: bufio.NewReaderSize(r, 64*1024), maxLine: maxLine}
}

// Decode reads the next envelope. A *DecodeError means the line was bad
// but the stream is intact; any other error comes from the reader.
func (d *Decoder) Decode() (*Envelope, error) {
	line, err := d.readLine()
	if err != nil {
		return nil, err
	}
	return Unmarshal(line)
}

func (d *Decoder) readLine() ([]byte, error) {
	var (
		line     []byte
		overflow bool
	)
	for {
		chunk, err := d.r.ReadSlice('\n')
		if !overflow {
			if len(line)+len(chunk) > d.maxLine+1 {
				overflow = true
				line = nil
			} else {
				line = append(line, chunk...)
			}
		}

		switch {
		case err == nil:
			if overflow {
				return nil, &DecodeError{Err: ErrLineTooLong}
			}
			return line, nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF) && len(line) > 0 && !overflow:
			// Final line without a newline.
			return line, nil
		default:
			return nil, err
		}
	}
}
