package main

import (
	"io"
	"os"
	"sync"
	"time"
)

// stdioChannel adapts a stdin/stdout pair into one duplex stream with
// read deadline support. Pipes cannot be polled with a deadline the way
// sockets can, so reads run on a pump goroutine and the deadline is
// enforced on the receiving side. Without this the engine's idle timer
// and bounded answer waits would never fire on the stdio transport.
type stdioChannel struct {
	in  io.ReadCloser
	out io.WriteCloser

	data chan []byte

	mu       sync.Mutex
	deadline time.Time
	leftover []byte
	readErr  error
}

func newStdioChannel(in io.ReadCloser, out io.WriteCloser) *stdioChannel {
	c := &stdioChannel{in: in, out: out, data: make(chan []byte)}
	go c.pump()
	return c
}

func (c *stdioChannel) pump() {
	for {
		buf := make([]byte, 64*1024)
		n, err := c.in.Read(buf)
		if n > 0 {
			c.data <- buf[:n]
		}
		if err != nil {
			c.mu.Lock()
			c.readErr = err
			c.mu.Unlock()
			close(c.data)
			return
		}
	}
}

func (c *stdioChannel) Read(p []byte) (int, error) {
	c.mu.Lock()
	if len(c.leftover) > 0 {
		n := copy(p, c.leftover)
		c.leftover = c.leftover[n:]
		c.mu.Unlock()
		return n, nil
	}
	deadline := c.deadline
	c.mu.Unlock()

	var expired <-chan time.Time
	if !deadline.IsZero() {
		wait := time.Until(deadline)
		if wait <= 0 {
			return 0, os.ErrDeadlineExceeded
		}
		timer := time.NewTimer(wait)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case chunk, ok := <-c.data:
		if !ok {
			c.mu.Lock()
			err := c.readErr
			c.mu.Unlock()
			if err == nil {
				err = io.EOF
			}
			return 0, err
		}
		n := copy(p, chunk)
		if n < len(chunk) {
			c.mu.Lock()
			c.leftover = chunk[n:]
			c.mu.Unlock()
		}
		return n, nil
	case <-expired:
		return 0, os.ErrDeadlineExceeded
	}
}

func (c *stdioChannel) Write(p []byte) (int, error) {
	return c.out.Write(p)
}

// SetReadDeadline bounds future Reads. The zero time removes the bound.
// Expiry reports os.ErrDeadlineExceeded, which satisfies net.Error, so
// callers detect it the same way they would on a socket.
func (c *stdioChannel) SetReadDeadline(t time.Time) error {
	c.mu.Lock()
	c.deadline = t
	c.mu.Unlock()
	return nil
}

func (c *stdioChannel) Close() error {
	err := c.in.Close()
	if werr := c.out.Close(); err == nil {
		err = werr
	}
	return err
}
