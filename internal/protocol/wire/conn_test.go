package wire

import (
	"bytes"
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// duplexBuffer is an in-memory ReadWriteCloser for single-goroutine frame
// tests.
type duplexBuffer struct {
	bytes.Buffer
}

func (*duplexBuffer) Close() error { return nil }

func TestConnSend(t *testing.T) {
	t.Run("FramesCommandAndPayload", func(t *testing.T) {
		var buf duplexBuffer
		conn := NewConn(&buf)

		require.NoError(t, conn.Send(CmdGet, []byte("payload")))

		raw := buf.Bytes()
		require.Len(t, raw, 8+7)

		header := binary.BigEndian.Uint32(raw[0:4])
		assert.Equal(t, uint32(0x80000000), header&0x80000000, "last-fragment bit must be set")
		assert.Equal(t, uint32(4+7), header&0x7FFFFFFF)
		assert.Equal(t, uint32(CmdGet), binary.BigEndian.Uint32(raw[4:8]))
		assert.Equal(t, []byte("payload"), raw[8:])
	})

	t.Run("FramesEmptyPayload", func(t *testing.T) {
		var buf duplexBuffer
		conn := NewConn(&buf)

		require.NoError(t, conn.Send(MsgFinished, nil))

		raw := buf.Bytes()
		require.Len(t, raw, 8)
		assert.Equal(t, uint32(4), binary.BigEndian.Uint32(raw[0:4])&0x7FFFFFFF)
	})

	t.Run("RejectsOversizedFrame", func(t *testing.T) {
		var buf duplexBuffer
		conn := NewConn(&buf)

		err := conn.Send(MsgData, make([]byte, MaxFrameSize))

		var perr *ProtocolError
		require.ErrorAs(t, err, &perr)
	})
}

func TestConnReceive(t *testing.T) {
	t.Run("RoundTripsFrames", func(t *testing.T) {
		var buf duplexBuffer
		conn := NewConn(&buf)

		require.NoError(t, conn.Send(CmdStat, []byte("abc")))
		require.NoError(t, conn.Send(CmdListDir, nil))

		cmd, payload, err := conn.Receive()
		require.NoError(t, err)
		assert.Equal(t, CmdStat, cmd)
		assert.Equal(t, []byte("abc"), payload)

		cmd, payload, err = conn.Receive()
		require.NoError(t, err)
		assert.Equal(t, CmdListDir, cmd)
		assert.Empty(t, payload)
	})

	t.Run("ReportsEOFOnClosedStream", func(t *testing.T) {
		var buf duplexBuffer
		conn := NewConn(&buf)

		_, _, err := conn.Receive()
		assert.ErrorIs(t, err, io.EOF)
	})

	t.Run("RejectsOversizedLength", func(t *testing.T) {
		var buf duplexBuffer
		binary.Write(&buf, binary.BigEndian, uint32(0x80000000|(MaxFrameSize+1)))
		conn := NewConn(&buf)

		_, _, err := conn.Receive()
		var perr *ProtocolError
		require.ErrorAs(t, err, &perr)
	})

	t.Run("RejectsShortBody", func(t *testing.T) {
		var buf duplexBuffer
		binary.Write(&buf, binary.BigEndian, uint32(0x80000000|2))
		conn := NewConn(&buf)

		_, _, err := conn.Receive()
		var perr *ProtocolError
		require.ErrorAs(t, err, &perr)
	})

	t.Run("RejectsTruncatedBody", func(t *testing.T) {
		var buf duplexBuffer
		binary.Write(&buf, binary.BigEndian, uint32(0x80000000|100))
		buf.Write([]byte{0, 0, 0, 1})
		conn := NewConn(&buf)

		_, _, err := conn.Receive()
		var perr *ProtocolError
		require.ErrorAs(t, err, &perr)
	})
}

func TestConnReadDeadline(t *testing.T) {
	t.Run("TimesOutIdleReceive", func(t *testing.T) {
		client, server := net.Pipe()
		defer client.Close()
		defer server.Close()

		conn := NewConn(server)
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(20*time.Millisecond)))

		_, _, err := conn.Receive()
		require.Error(t, err)
		assert.True(t, IsTimeout(err))
	})
}
