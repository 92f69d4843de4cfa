package publisher

import (
	"context"
	"io"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nerrad567/simplepub/internal/infrastructure/mqtt"
	"github.com/nerrad567/simplepub/internal/infrastructure/transport"
	"github.com/nerrad567/simplepub/internal/testutil/brokertest"
)

func testConnectOptions() mqtt.ConnectOptions {
	return mqtt.ConnectOptions{
		ClientID:  "mosquitto_simplepub",
		KeepAlive: 400 * time.Second,
	}
}

// openConn opens a plain TCP transport to the broker.
func openConn(t *testing.T, b *brokertest.Broker) *transport.Conn {
	t.Helper()

	conn, err := transport.Open(context.Background(), transport.Config{
		Scheme:  transport.SchemeTCP,
		Address: b.Addr(),
	})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// newConnectedSession opens a session against the broker and submits CONNECT.
func newConnectedSession(t *testing.T, b *brokertest.Broker) (*Session, *transport.Conn) {
	t.Helper()

	conn := openConn(t, b)
	s, err := NewSession(conn, 2048, 1024, nil, WithIOPoll(5*time.Millisecond))
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}
	if err := s.Connect(testConnectOptions()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	return s, conn
}

// waitFor polls cond every 5ms until it holds or timeout passes.
func waitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

// freeAddr returns a loopback address nothing listens on.
func freeAddr(t *testing.T) string {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	addr := l.Addr().String()
	l.Close()
	return addr
}

// countingTransport is an in-memory Transport that counts Close calls.
type countingTransport struct {
	net.Conn

	open    atomic.Bool
	closes  atomic.Int32
	onClose func()
}

func newCountingTransport(t *testing.T) *countingTransport {
	t.Helper()

	client, server := net.Pipe()
	go io.Copy(io.Discard, server) //nolint:errcheck // drains until the pipe closes
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})

	c := &countingTransport{Conn: client}
	c.open.Store(true)
	return c
}

func (c *countingTransport) IsOpen() bool { return c.open.Load() }

func (c *countingTransport) Close() error {
	c.closes.Add(1)
	if c.onClose != nil {
		c.onClose()
	}
	c.open.Store(false)
	return c.Conn.Close()
}

// fakeSyncer counts Sync calls and fails from call failAt onwards (0 never fails).
type fakeSyncer struct {
	calls  atomic.Int64
	failAt int64
	err    error
}

func (f *fakeSyncer) Sync() error {
	n := f.calls.Add(1)
	if f.failAt > 0 && n >= f.failAt {
		return f.err
	}
	return nil
}

// fakeValidity is a switchable Validity.
type fakeValidity struct {
	closed atomic.Bool
}

func (f *fakeValidity) IsOpen() bool { return !f.closed.Load() }
