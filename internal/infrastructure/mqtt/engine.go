package mqtt

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/eclipse/paho.mqtt.golang/packets"
)

// Conn is the transport the engine drives. net.Conn satisfies it.
type Conn interface {
	io.Reader
	io.Writer
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

// MessageHandler receives application messages delivered by the broker.
//
// It runs synchronously inside Sync, under whatever lock the caller
// holds, and must not call back into the engine.
type MessageHandler func(topic string, payload []byte, qos byte)

// Stats counts engine activity since creation.
type Stats struct {
	Syncs           uint64
	FramesQueued    uint64
	FramesReceived  uint64
	BytesSent       uint64
	BytesReceived   uint64
	Retransmissions uint64
}

// Engine encodes requests into a send arena and drives I/O on demand.
type Engine struct {
	conn      Conn
	cfg       EngineConfig
	send      *Arena
	recv      *Arena
	onMessage MessageHandler
	inflight  *inflight

	// inboundQoS2 holds ids of inbound QoS 2 publishes awaiting PUBREL.
	inboundQoS2 map[uint16]struct{}

	err  error
	kind ErrorKind

	connectSent    bool
	connectSentAt  time.Time
	connected      bool
	sessionPresent bool
	keepAlive      time.Duration
	lastEgress     time.Time
	pingSentAt     time.Time

	stats Stats
	now   func() time.Time
}

// NewEngine allocates the arenas and binds the engine to conn.
//
// Parameters:
//   - conn: An already-open transport
//   - cfg: Arena sizes and timer settings
//   - onMessage: Ingress hook for inbound PUBLISH frames (may be nil)
//
// Returns:
//   - *Engine: Engine with error state KindOK
//   - error: ErrNilTransport or ErrInvalidCapacity
func NewEngine(conn Conn, cfg EngineConfig, onMessage MessageHandler) (*Engine, error) {
	if conn == nil {
		return nil, ErrNilTransport
	}
	send, err := NewArena(cfg.SendCapacity)
	if err != nil {
		return nil, fmt.Errorf("send arena: %w", err)
	}
	recv, err := NewArena(cfg.RecvCapacity)
	if err != nil {
		return nil, fmt.Errorf("receive arena: %w", err)
	}

	return &Engine{
		conn:        conn,
		cfg:         cfg.withDefaults(),
		send:        send,
		recv:        recv,
		onMessage:   onMessage,
		inflight:    newInflight(),
		inboundQoS2: make(map[uint16]struct{}),
		now:         time.Now,
	}, nil
}

// Connect enqueues a CONNECT frame. It does not wait for CONNACK; the
// acknowledgement is processed by a later Sync.
func (e *Engine) Connect(opts ConnectOptions) error {
	if e.err != nil {
		return e.err
	}
	if e.connectSent {
		return e.fail(fmt.Errorf("%w: connect already submitted", ErrInvalidConnect))
	}

	cp, err := buildConnectPacket(opts)
	if err != nil {
		return e.fail(err)
	}
	if err := e.enqueue(cp); err != nil {
		return e.fail(err)
	}

	e.connectSent = true
	e.connectSentAt = e.now()
	e.keepAlive = time.Duration(cp.Keepalive) * time.Second
	return nil
}

// Disconnect enqueues a DISCONNECT frame.
func (e *Engine) Disconnect() error {
	if e.err != nil {
		return e.err
	}
	if err := e.enqueue(packets.NewControlPacket(packets.Disconnect)); err != nil {
		return e.fail(err)
	}
	return nil
}

// Sync performs one round of I/O: egress, ingress, then timers.
// Once the engine has failed, Sync returns the stored error immediately.
func (e *Engine) Sync() error {
	if e.err != nil {
		return e.err
	}
	e.stats.Syncs++

	if err := e.flush(); err != nil {
		return e.fail(err)
	}
	if err := e.receive(); err != nil {
		return e.fail(err)
	}
	if err := e.checkTimers(e.now()); err != nil {
		return e.fail(err)
	}
	return nil
}

// Flush performs only the egress half of Sync.
func (e *Engine) Flush() error {
	if e.err != nil {
		return e.err
	}
	if err := e.flush(); err != nil {
		return e.fail(err)
	}
	return nil
}

// Err returns the stored error, or nil while the engine is healthy.
func (e *Engine) Err() error { return e.err }

// Kind returns the error state classification.
func (e *Engine) Kind() ErrorKind { return e.kind }

// Connected reports whether the broker accepted the CONNECT.
func (e *Engine) Connected() bool { return e.connected }

// SessionPresent reports the CONNACK session-present flag.
func (e *Engine) SessionPresent() bool { return e.sessionPresent }

// Pending returns the number of QoS 1/2 publishes awaiting their final ack.
func (e *Engine) Pending() int { return e.inflight.len() }

// Buffered returns the number of bytes still waiting in the send arena.
func (e *Engine) Buffered() int { return e.send.Len() }

// Stats returns a copy of the activity counters.
func (e *Engine) Stats() Stats { return e.stats }

// fail records err as the engine's error state. The first failure wins.
func (e *Engine) fail(err error) error {
	if e.err == nil {
		e.err = err
		e.kind = kindOf(err)
	}
	return e.err
}

// enqueue encodes cp into the send arena.
func (e *Engine) enqueue(cp packets.ControlPacket) error {
	frame, err := encodeFrame(cp)
	if err != nil {
		return err
	}
	if err := e.send.Append(frame); err != nil {
		return fmt.Errorf("queueing %s: %w", packetName(cp), err)
	}
	e.stats.FramesQueued++
	return nil
}

// flush writes as much of the send arena as the transport accepts.
func (e *Engine) flush() error {
	if e.send.Len() == 0 {
		return nil
	}

	// Socket deadlines use the wall clock; e.now only drives protocol timers.
	if err := e.conn.SetWriteDeadline(time.Now().Add(e.cfg.WriteTimeout)); err != nil {
		return fmt.Errorf("%w: set write deadline: %w", ErrTransport, err)
	}

	n, err := e.conn.Write(e.send.Bytes())
	if n > 0 {
		e.send.Consume(n)
		e.stats.BytesSent += uint64(n)
		e.lastEgress = e.now()
	}
	if err != nil && !isTimeout(err) {
		return fmt.Errorf("%w: write: %w", ErrTransport, err)
	}
	return nil
}

// receive reads what is available and handles every complete frame.
func (e *Engine) receive() error {
	if e.recv.Free() == 0 {
		return fmt.Errorf("%w: receive arena full without a complete frame", ErrArenaOverflow)
	}
	if err := e.conn.SetReadDeadline(time.Now().Add(e.cfg.ReadPoll)); err != nil {
		return fmt.Errorf("%w: set read deadline: %w", ErrTransport, err)
	}

	n, readErr := e.conn.Read(e.recv.Spare())
	if n > 0 {
		e.recv.Commit(n)
		e.stats.BytesReceived += uint64(n)
	}

	// Frames that arrived together with EOF are still handled.
	if err := e.parseFrames(); err != nil {
		return err
	}

	switch {
	case readErr == nil, isTimeout(readErr):
		return nil
	case errors.Is(readErr, io.EOF):
		return ErrConnectionClosed
	default:
		return fmt.Errorf("%w: read: %w", ErrTransport, readErr)
	}
}

// parseFrames decodes complete frames from the front of the receive arena.
func (e *Engine) parseFrames() error {
	for {
		total, complete, err := frameLength(e.recv.Bytes())
		if err != nil {
			return err
		}
		if total > e.recv.Cap() {
			return fmt.Errorf("%w: inbound frame of %d bytes, receive arena holds %d",
				ErrArenaOverflow, total, e.recv.Cap())
		}
		if !complete {
			return nil
		}

		cp, err := decodeFrame(e.recv.Bytes()[:total])
		if err != nil {
			return err
		}
		e.recv.Consume(total)
		e.stats.FramesReceived++

		if err := e.handle(cp); err != nil {
			return err
		}
	}
}

// handle reacts to one inbound control packet.
func (e *Engine) handle(cp packets.ControlPacket) error {
	switch p := cp.(type) {
	case *packets.ConnackPacket:
		return e.handleConnack(p)

	case *packets.PubackPacket:
		if pending, ok := e.inflight.get(p.MessageID); ok && pending.state == awaitingPuback {
			e.inflight.remove(p.MessageID)
		}

	case *packets.PubrecPacket:
		pending, ok := e.inflight.get(p.MessageID)
		if !ok || pending.state != awaitingPubrec {
			return nil
		}
		pending.state = awaitingPubcomp
		pending.attempts = 0
		pending.sentAt = e.now()
		return e.enqueueAck(packets.Pubrel, p.MessageID)

	case *packets.PubcompPacket:
		if pending, ok := e.inflight.get(p.MessageID); ok && pending.state == awaitingPubcomp {
			e.inflight.remove(p.MessageID)
		}

	case *packets.PingrespPacket:
		e.pingSentAt = time.Time{}

	case *packets.PublishPacket:
		return e.handleInboundPublish(p)

	case *packets.PubrelPacket:
		delete(e.inboundQoS2, p.MessageID)
		return e.enqueueAck(packets.Pubcomp, p.MessageID)
	}

	return nil
}

func (e *Engine) handleConnack(p *packets.ConnackPacket) error {
	if !e.connectSent {
		return fmt.Errorf("%w: CONNACK before CONNECT", ErrMalformedFrame)
	}
	if p.ReturnCode != packets.Accepted {
		return fmt.Errorf("%w: %s", ErrConnectionRefused, packets.ConnackReturnCodes[p.ReturnCode])
	}
	e.connected = true
	e.sessionPresent = p.SessionPresent
	return nil
}

func (e *Engine) handleInboundPublish(p *packets.PublishPacket) error {
	switch p.Qos {
	case 0:
		e.deliver(p)
	case 1:
		e.deliver(p)
		return e.enqueueAck(packets.Puback, p.MessageID)
	case 2:
		if _, seen := e.inboundQoS2[p.MessageID]; !seen {
			e.inboundQoS2[p.MessageID] = struct{}{}
			e.deliver(p)
		}
		return e.enqueueAck(packets.Pubrec, p.MessageID)
	}
	return nil
}

func (e *Engine) deliver(p *packets.PublishPacket) {
	if e.onMessage != nil {
		e.onMessage(p.TopicName, p.Payload, p.Qos)
	}
}

// enqueueAck queues a PUBACK, PUBREC, PUBREL or PUBCOMP for id.
func (e *Engine) enqueueAck(packetType byte, id uint16) error {
	var cp packets.ControlPacket
	switch packetType {
	case packets.Puback:
		ack := packets.NewControlPacket(packets.Puback).(*packets.PubackPacket)
		ack.MessageID = id
		cp = ack
	case packets.Pubrec:
		ack := packets.NewControlPacket(packets.Pubrec).(*packets.PubrecPacket)
		ack.MessageID = id
		cp = ack
	case packets.Pubrel:
		ack := packets.NewControlPacket(packets.Pubrel).(*packets.PubrelPacket)
		ack.MessageID = id
		cp = ack
	case packets.Pubcomp:
		ack := packets.NewControlPacket(packets.Pubcomp).(*packets.PubcompPacket)
		ack.MessageID = id
		cp = ack
	default:
		return fmt.Errorf("mqtt: packet type %d is not an acknowledgement", packetType)
	}
	return e.enqueue(cp)
}

// checkTimers enforces the CONNACK deadline, keep-alive and QoS retransmission.
func (e *Engine) checkTimers(now time.Time) error {
	if !e.connectSent {
		return nil
	}

	if !e.connected {
		if now.Sub(e.connectSentAt) >= e.cfg.AckTimeout {
			return fmt.Errorf("%w: no CONNACK within %v", ErrTimeout, e.cfg.AckTimeout)
		}
		return nil
	}

	if err := e.checkKeepAlive(now); err != nil {
		return err
	}
	return e.retransmit(now)
}

func (e *Engine) checkKeepAlive(now time.Time) error {
	if e.keepAlive <= 0 {
		return nil
	}
	if !e.pingSentAt.IsZero() {
		if now.Sub(e.pingSentAt) >= e.cfg.AckTimeout {
			return fmt.Errorf("%w: no PINGRESP within %v", ErrTimeout, e.cfg.AckTimeout)
		}
		return nil
	}
	if now.Sub(e.lastEgress) >= e.keepAlive {
		if err := e.enqueue(packets.NewControlPacket(packets.Pingreq)); err != nil {
			return err
		}
		e.pingSentAt = now
	}
	return nil
}

func (e *Engine) retransmit(now time.Time) error {
	for _, p := range e.inflight.overdue(now, e.cfg.AckTimeout) {
		if p.attempts >= e.cfg.MaxRetries {
			return fmt.Errorf("%w: publish %d not acknowledged after %d retransmissions",
				ErrTimeout, p.id, p.attempts)
		}
		p.attempts++
		p.sentAt = now
		e.stats.Retransmissions++

		if p.state == awaitingPubcomp {
			if err := e.enqueueAck(packets.Pubrel, p.id); err != nil {
				return err
			}
			continue
		}
		p.packet.Dup = true
		if err := e.enqueue(p.packet); err != nil {
			return err
		}
	}
	return nil
}

// isTimeout reports whether err is a deadline expiry rather than a failure.
func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
