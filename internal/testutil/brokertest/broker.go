// Package brokertest provides an in-process MQTT 3.1.1 broker stand-in
// for tests.
//
// The broker accepts any number of TCP connections on 127.0.0.1, answers
// CONNECT, PUBLISH (QoS 0-2), PINGREQ and DISCONNECT, and records what it
// received so tests can assert on it. It does not route messages between
// clients.
package brokertest

import (
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/eclipse/paho.mqtt.golang/packets"
)

// Message is one PUBLISH received by the broker.
type Message struct {
	Topic   string
	Payload []byte
	QoS     byte
	Retain  bool
	Dup     bool
	ID      uint16
}

// Option customises broker behaviour.
type Option func(*Broker)

// WithReturnCode makes the broker answer every CONNECT with rc.
// Non-zero codes close the connection after the CONNACK.
func WithReturnCode(rc byte) Option {
	return func(b *Broker) { b.returnCode = rc }
}

// WithoutAcks suppresses PUBACK and PUBREC so clients must retransmit.
func WithoutAcks() Option {
	return func(b *Broker) { b.dropAcks = true }
}

// WithSilence makes the broker read frames but never answer.
func WithSilence() Option {
	return func(b *Broker) { b.silent = true }
}

// WithCloseAfterConnack closes each connection right after a successful CONNACK.
func WithCloseAfterConnack() Option {
	return func(b *Broker) { b.closeAfterConnack = true }
}

// WithGreeting sends a QoS 0 PUBLISH to the client right after CONNACK.
func WithGreeting(topic string, payload []byte) Option {
	return func(b *Broker) {
		b.greetingTopic = topic
		b.greetingPayload = payload
	}
}

// Broker is a minimal MQTT broker for tests.
type Broker struct {
	listener net.Listener
	done     chan struct{}
	wg       sync.WaitGroup
	once     sync.Once

	returnCode        byte
	dropAcks          bool
	silent            bool
	closeAfterConnack bool
	greetingTopic     string
	greetingPayload   []byte

	mu          sync.Mutex
	conns       map[net.Conn]struct{}
	connects    []*packets.ConnectPacket
	messages    []Message
	pings       int
	disconnects int
}

// Start listens on an ephemeral port and serves until the test ends.
func Start(t testing.TB, opts ...Option) *Broker {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("brokertest: listen: %v", err)
	}

	b := &Broker{
		listener: listener,
		done:     make(chan struct{}),
		conns:    make(map[net.Conn]struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}

	b.wg.Add(1)
	go b.acceptLoop()

	t.Cleanup(b.Close)
	return b
}

// Addr returns the listener address as host:port.
func (b *Broker) Addr() string { return b.listener.Addr().String() }

// Host returns the listener host.
func (b *Broker) Host() string {
	host, _, _ := net.SplitHostPort(b.Addr())
	return host
}

// Port returns the listener port.
func (b *Broker) Port() int {
	_, port, _ := net.SplitHostPort(b.Addr())
	n, _ := strconv.Atoi(port)
	return n
}

// Close stops accepting, drops every connection and waits for handlers.
func (b *Broker) Close() {
	b.once.Do(func() {
		close(b.done)
		b.listener.Close()

		b.mu.Lock()
		for c := range b.conns {
			c.Close()
		}
		b.mu.Unlock()

		b.wg.Wait()
	})
}

// Connects returns the CONNECT packets received so far.
func (b *Broker) Connects() []*packets.ConnectPacket {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*packets.ConnectPacket(nil), b.connects...)
}

// Messages returns the PUBLISH packets received so far, including duplicates.
func (b *Broker) Messages() []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Message(nil), b.messages...)
}

// Pings returns the number of PINGREQ packets received.
func (b *Broker) Pings() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pings
}

// Disconnects returns the number of DISCONNECT packets received.
func (b *Broker) Disconnects() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.disconnects
}

// WaitForMessages polls until at least n messages arrived or timeout passes.
func (b *Broker) WaitForMessages(n int, timeout time.Duration) []Message {
	deadline := time.Now().Add(timeout)
	for {
		msgs := b.Messages()
		if len(msgs) >= n || time.Now().After(deadline) {
			return msgs
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// WaitForDisconnects polls until at least n DISCONNECTs arrived or timeout passes.
func (b *Broker) WaitForDisconnects(n int, timeout time.Duration) int {
	deadline := time.Now().Add(timeout)
	for {
		got := b.Disconnects()
		if got >= n || time.Now().After(deadline) {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func (b *Broker) acceptLoop() {
	defer b.wg.Done()

	for {
		conn, err := b.listener.Accept()
		if err != nil {
			return
		}

		b.mu.Lock()
		select {
		case <-b.done:
			b.mu.Unlock()
			conn.Close()
			return
		default:
		}
		b.conns[conn] = struct{}{}
		b.mu.Unlock()

		b.wg.Add(1)
		go b.serve(conn)
	}
}

func (b *Broker) serve(conn net.Conn) {
	defer b.wg.Done()
	defer func() {
		b.mu.Lock()
		delete(b.conns, conn)
		b.mu.Unlock()
		conn.Close()
	}()

	for {
		cp, err := packets.ReadPacket(conn)
		if err != nil {
			return
		}
		if !b.handle(conn, cp) {
			return
		}
	}
}

// handle answers one packet. It returns false when the connection should close.
func (b *Broker) handle(conn net.Conn, cp packets.ControlPacket) bool {
	switch p := cp.(type) {
	case *packets.ConnectPacket:
		b.mu.Lock()
		b.connects = append(b.connects, p)
		b.mu.Unlock()
		if b.silent {
			return true
		}

		ack := packets.NewControlPacket(packets.Connack).(*packets.ConnackPacket)
		ack.ReturnCode = b.returnCode
		if err := ack.Write(conn); err != nil {
			return false
		}
		if b.returnCode != packets.Accepted || b.closeAfterConnack {
			return false
		}
		if b.greetingTopic != "" {
			pub := packets.NewControlPacket(packets.Publish).(*packets.PublishPacket)
			pub.TopicName = b.greetingTopic
			pub.Payload = b.greetingPayload
			if err := pub.Write(conn); err != nil {
				return false
			}
		}

	case *packets.PublishPacket:
		b.mu.Lock()
		b.messages = append(b.messages, Message{
			Topic:   p.TopicName,
			Payload: append([]byte(nil), p.Payload...),
			QoS:     p.Qos,
			Retain:  p.Retain,
			Dup:     p.Dup,
			ID:      p.MessageID,
		})
		b.mu.Unlock()
		if b.silent || b.dropAcks {
			return true
		}

		switch p.Qos {
		case 1:
			ack := packets.NewControlPacket(packets.Puback).(*packets.PubackPacket)
			ack.MessageID = p.MessageID
			return ack.Write(conn) == nil
		case 2:
			ack := packets.NewControlPacket(packets.Pubrec).(*packets.PubrecPacket)
			ack.MessageID = p.MessageID
			return ack.Write(conn) == nil
		}

	case *packets.PubrelPacket:
		if b.silent {
			return true
		}
		ack := packets.NewControlPacket(packets.Pubcomp).(*packets.PubcompPacket)
		ack.MessageID = p.MessageID
		return ack.Write(conn) == nil

	case *packets.PingreqPacket:
		b.mu.Lock()
		b.pings++
		b.mu.Unlock()
		if b.silent {
			return true
		}
		return packets.NewControlPacket(packets.Pingresp).Write(conn) == nil

	case *packets.DisconnectPacket:
		b.mu.Lock()
		b.disconnects++
		b.mu.Unlock()
		return false
	}

	return true
}
