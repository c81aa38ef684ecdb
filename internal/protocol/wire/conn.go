package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

// MaxFrameSize bounds a single frame (command word plus payload). Frames
// above this are treated as framing corruption rather than allocated.
const MaxFrameSize = 16 * 1024 * 1024

// Conn frames messages over a byte stream. Each frame is a 4-byte
// big-endian header (high bit set on the last fragment, lower 31 bits the
// body length) followed by the command word and the payload bytes.
//
// Conn itself is not synchronized; the worker engine owns it from a single
// goroutine, which is the protocol's concurrency model.
type Conn struct {
	rwc io.ReadWriteCloser
}

// NewConn wraps an established byte stream. The transport below (socket,
// pipe) is the caller's concern.
func NewConn(rwc io.ReadWriteCloser) *Conn {
	return &Conn{rwc: rwc}
}

// Send writes one framed message.
func (c *Conn) Send(cmd Cmd, payload []byte) error {
	if len(payload)+4 > MaxFrameSize {
		return &ProtocolError{Cmd: cmd, Reason: fmt.Sprintf("frame too large: %d bytes", len(payload)+4)}
	}

	frame := make([]byte, 8+len(payload))
	binary.BigEndian.PutUint32(frame[0:4], 0x80000000|uint32(4+len(payload)))
	binary.BigEndian.PutUint32(frame[4:8], uint32(cmd))
	copy(frame[8:], payload)

	if _, err := c.rwc.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// Receive reads one framed message. A truncated frame or an oversized
// length is a ProtocolError; the connection must not be reused after one.
func (c *Conn) Receive() (Cmd, []byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(c.rwc, hdr[:]); err != nil {
		if err == io.EOF {
			return 0, nil, io.EOF
		}
		return 0, nil, err
	}

	length := binary.BigEndian.Uint32(hdr[:]) & 0x7FFFFFFF
	if length < 4 {
		return 0, nil, &ProtocolError{Reason: fmt.Sprintf("frame body too short: %d bytes", length)}
	}
	if length > MaxFrameSize {
		return 0, nil, &ProtocolError{Reason: fmt.Sprintf("frame too large: %d bytes", length)}
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(c.rwc, body); err != nil {
		return 0, nil, &ProtocolError{Reason: fmt.Sprintf("truncated frame: %v", err)}
	}

	cmd := Cmd(binary.BigEndian.Uint32(body[:4]))
	return cmd, body[4:], nil
}

// SetReadDeadline bounds the next Receive when the underlying stream
// supports deadlines (net.Conn, net.Pipe). A zero time clears the bound.
func (c *Conn) SetReadDeadline(t time.Time) error {
	type deadliner interface {
		SetReadDeadline(time.Time) error
	}
	if d, ok := c.rwc.(deadliner); ok {
		return d.SetReadDeadline(t)
	}
	return nil
}

// IsTimeout reports whether err is a deadline expiry from SetReadDeadline.
func IsTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// Close closes the underlying stream.
func (c *Conn) Close() error {
	return c.rwc.Close()
}
