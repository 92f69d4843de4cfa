package mqtt

import (
	"fmt"
	"math"
	"time"

	"github.com/eclipse/paho.mqtt.golang/packets"
)

// Engine constants.
const (
	// defaultAckTimeout is how long CONNACK, PUBACK/PUBREC/PUBCOMP and
	// PINGRESP may take before the engine retransmits or gives up.
	defaultAckTimeout = 30 * time.Second

	// defaultMaxRetries is how many DUP retransmissions a QoS 1/2 publish gets.
	defaultMaxRetries = 3

	// defaultReadPoll bounds how long one ingress pass waits for bytes.
	defaultReadPoll = 10 * time.Millisecond

	// defaultWriteTimeout bounds how long one egress pass may block.
	defaultWriteTimeout = 5 * time.Second

	// protocolName and protocolVersion select MQTT 3.1.1.
	protocolName    = "MQTT"
	protocolVersion = 4

	// maxQoS is the maximum QoS level supported.
	maxQoS = 2

	// maxKeepAliveSeconds is the largest keep-alive the CONNECT header can carry.
	maxKeepAliveSeconds = math.MaxUint16
)

// EngineConfig sizes the arenas and tunes the engine's timers.
// Zero durations and retry counts fall back to the package defaults.
type EngineConfig struct {
	// SendCapacity is the send arena size in bytes.
	SendCapacity int

	// RecvCapacity is the receive arena size in bytes.
	RecvCapacity int

	// AckTimeout is the acknowledgement deadline for CONNACK, QoS 1/2
	// handshakes and PINGRESP.
	AckTimeout time.Duration

	// MaxRetries is the number of DUP retransmissions before a QoS 1/2
	// publish is declared failed.
	MaxRetries int

	// ReadPoll bounds each ingress read.
	ReadPoll time.Duration

	// WriteTimeout bounds each egress write.
	WriteTimeout time.Duration
}

func (c EngineConfig) withDefaults() EngineConfig {
	if c.AckTimeout <= 0 {
		c.AckTimeout = defaultAckTimeout
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = defaultMaxRetries
	}
	if c.ReadPoll <= 0 {
		c.ReadPoll = defaultReadPoll
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	return c
}

// ConnectOptions carries the CONNECT request fields.
type ConnectOptions struct {
	// ClientID identifies the client to the broker.
	ClientID string

	// Username is sent when non-empty.
	Username string

	// Password is sent when non-empty. MQTT 3.1.1 forbids a password
	// without a username.
	Password string

	// KeepAlive is the maximum idle interval, rounded down to whole seconds.
	// Zero disables keep-alive.
	KeepAlive time.Duration

	// CleanSession asks the broker to discard any previous session state.
	CleanSession bool
}

// buildConnectPacket creates the CONNECT control packet.
//
// The paho packet validates the client identifier length and the
// username/password combination; a local refusal is reported as
// ErrInvalidConnect rather than as a broker refusal.
func buildConnectPacket(opts ConnectOptions) (*packets.ConnectPacket, error) {
	keepAlive := opts.KeepAlive / time.Second
	if keepAlive < 0 || keepAlive > maxKeepAliveSeconds {
		return nil, fmt.Errorf("%w: keep-alive %v out of range", ErrInvalidConnect, opts.KeepAlive)
	}

	cp := packets.NewControlPacket(packets.Connect).(*packets.ConnectPacket)
	cp.ProtocolName = protocolName
	cp.ProtocolVersion = protocolVersion
	cp.ClientIdentifier = opts.ClientID
	cp.CleanSession = opts.CleanSession
	cp.Keepalive = uint16(keepAlive)

	if opts.Username != "" {
		cp.UsernameFlag = true
		cp.Username = opts.Username
	}
	if opts.Password != "" {
		cp.PasswordFlag = true
		cp.Password = []byte(opts.Password)
	}

	if rc := cp.Validate(); rc != packets.Accepted {
		return nil, fmt.Errorf("%w: %s", ErrInvalidConnect, packets.ConnackReturnCodes[rc])
	}
	return cp, nil
}
