package mqtt

import "errors"

// Domain-specific errors for engine operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrInvalidCapacity is returned when an arena is created with a non-positive size.
	ErrInvalidCapacity = errors.New("mqtt: arena capacity must be positive")

	// ErrArenaOverflow is returned when a frame does not fit into an arena.
	ErrArenaOverflow = errors.New("mqtt: arena capacity exceeded")

	// ErrNilTransport is returned when the engine is created without a transport.
	ErrNilTransport = errors.New("mqtt: transport is nil")

	// ErrInvalidQoS is returned when an invalid QoS level is specified.
	// Valid QoS levels are 0, 1, or 2.
	ErrInvalidQoS = errors.New("mqtt: invalid QoS level (must be 0, 1, or 2)")

	// ErrInvalidTopic is returned when a publish topic is empty or malformed.
	ErrInvalidTopic = errors.New("mqtt: invalid topic")

	// ErrNilPayload is returned when a publish has no payload at all.
	ErrNilPayload = errors.New("mqtt: payload is required")

	// ErrInvalidConnect is returned when CONNECT options are rejected locally.
	ErrInvalidConnect = errors.New("mqtt: invalid connect options")

	// ErrNotConnecting is returned when PUBLISH is submitted before CONNECT.
	ErrNotConnecting = errors.New("mqtt: connect has not been submitted")

	// ErrConnectionRefused is returned when the broker answers CONNACK with a refusal.
	ErrConnectionRefused = errors.New("mqtt: connection refused by broker")

	// ErrConnectionClosed is returned when the broker closes the stream.
	ErrConnectionClosed = errors.New("mqtt: connection closed by broker")

	// ErrTransport is returned when a read or write on the transport fails.
	ErrTransport = errors.New("mqtt: transport failure")

	// ErrMalformedFrame is returned when the receive arena holds bytes that
	// cannot be decoded as an MQTT frame.
	ErrMalformedFrame = errors.New("mqtt: malformed frame")

	// ErrTimeout is returned when CONNACK, PINGRESP or a QoS acknowledgement
	// does not arrive in time.
	ErrTimeout = errors.New("mqtt: operation timed out")

	// ErrTooManyInflight is returned when every packet identifier is in use.
	ErrTooManyInflight = errors.New("mqtt: no free packet identifier")
)

// ErrorKind classifies the engine's error state.
type ErrorKind int

// Error kinds, in no particular order. KindOK is the zero value.
const (
	KindOK ErrorKind = iota
	KindArenaOverflow
	KindInvalidRequest
	KindConnectionRefused
	KindConnectionClosed
	KindTransport
	KindMalformedFrame
	KindTimeout
)

// String returns a short lowercase name for the kind.
func (k ErrorKind) String() string {
	switch k {
	case KindOK:
		return "ok"
	case KindArenaOverflow:
		return "arena_overflow"
	case KindInvalidRequest:
		return "invalid_request"
	case KindConnectionRefused:
		return "connection_refused"
	case KindConnectionClosed:
		return "connection_closed"
	case KindTransport:
		return "transport"
	case KindMalformedFrame:
		return "malformed_frame"
	case KindTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// kindOf maps a sentinel error to its ErrorKind.
func kindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindOK
	case errors.Is(err, ErrArenaOverflow):
		return KindArenaOverflow
	case errors.Is(err, ErrConnectionRefused):
		return KindConnectionRefused
	case errors.Is(err, ErrConnectionClosed):
		return KindConnectionClosed
	case errors.Is(err, ErrMalformedFrame):
		return KindMalformedFrame
	case errors.Is(err, ErrTimeout):
		return KindTimeout
	case errors.Is(err, ErrTransport):
		return KindTransport
	default:
		return KindInvalidRequest
	}
}
