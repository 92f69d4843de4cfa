package transport

import (
	"io"
	"net"
	"os"
	"sync"
	"time"
)

// pumpConn emulates read deadlines for streams that either do not support
// them (SSH channels) or treat an expired deadline as fatal (WebSocket).
//
// A goroutine pulls chunks from source with no deadline; Read applies the
// deadline to the hand-off instead.
type pumpConn struct {
	source           func() ([]byte, error)
	write            func([]byte) (int, error)
	closeFn          func() error
	setWriteDeadline func(time.Time) error
	local, remote    net.Addr

	incoming chan []byte
	done     chan struct{}
	readErr  error
	pending  []byte

	mu           sync.Mutex
	readDeadline time.Time

	closeOnce sync.Once
}

func (c *pumpConn) start() *pumpConn {
	c.incoming = make(chan []byte)
	c.done = make(chan struct{})
	go c.pump()
	return c
}

// pump forwards chunks until the source fails. readErr is written before
// incoming is closed.
func (c *pumpConn) pump() {
	defer close(c.incoming)

	for {
		data, err := c.source()
		if len(data) > 0 {
			select {
			case c.incoming <- data:
			case <-c.done:
				c.readErr = net.ErrClosed
				return
			}
		}
		if err != nil {
			c.readErr = err
			return
		}
	}
}

func (c *pumpConn) Read(p []byte) (int, error) {
	if len(c.pending) > 0 {
		n := copy(p, c.pending)
		c.pending = c.pending[n:]
		return n, nil
	}

	c.mu.Lock()
	deadline := c.readDeadline
	c.mu.Unlock()

	var timeout <-chan time.Time
	if !deadline.IsZero() {
		wait := time.Until(deadline)
		if wait <= 0 {
			return 0, os.ErrDeadlineExceeded
		}
		timer := time.NewTimer(wait)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case data, ok := <-c.incoming:
		if !ok {
			if c.readErr == nil {
				return 0, io.EOF
			}
			return 0, c.readErr
		}
		n := copy(p, data)
		c.pending = data[n:]
		return n, nil
	case <-timeout:
		return 0, os.ErrDeadlineExceeded
	case <-c.done:
		return 0, net.ErrClosed
	}
}

func (c *pumpConn) Write(p []byte) (int, error) { return c.write(p) }

func (c *pumpConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.closeFn()
	})
	return err
}

func (c *pumpConn) LocalAddr() net.Addr  { return c.local }
func (c *pumpConn) RemoteAddr() net.Addr { return c.remote }

func (c *pumpConn) SetDeadline(t time.Time) error {
	if err := c.SetReadDeadline(t); err != nil {
		return err
	}
	return c.SetWriteDeadline(t)
}

func (c *pumpConn) SetReadDeadline(t time.Time) error {
	c.mu.Lock()
	c.readDeadline = t
	c.mu.Unlock()
	return nil
}

func (c *pumpConn) SetWriteDeadline(t time.Time) error {
	if c.setWriteDeadline == nil {
		return nil
	}
	return c.setWriteDeadline(t)
}

// streamChunkSize is the read size used when pumping a plain stream.
const streamChunkSize = 4096

// newStreamPump wraps a stream whose deadlines cannot be relied on.
// Write deadlines are dropped.
func newStreamPump(conn net.Conn) *pumpConn {
	return (&pumpConn{
		source: func() ([]byte, error) {
			buf := make([]byte, streamChunkSize)
			n, err := conn.Read(buf)
			return buf[:n], err
		},
		write:   conn.Write,
		closeFn: conn.Close,
		local:   conn.LocalAddr(),
		remote:  conn.RemoteAddr(),
	}).start()
}
